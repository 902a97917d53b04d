package handler

import (
	"net/http"
	"testing"
)

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"CL-KEY-5030", http.StatusServiceUnavailable},
		{"CL-KEY-4090", http.StatusConflict},
		{"CL-CRYP-4220", http.StatusUnprocessableEntity},
		{"CL-CRYP-4221", http.StatusUnprocessableEntity},
		{"CL-PROT-4120", http.StatusPreconditionFailed},
		{"CL-PROT-4122", http.StatusPreconditionFailed},
		{"CL-REQ-4000", http.StatusBadRequest},
		{"CL-REQ-4040", http.StatusNotFound},
		{"CL-SYS-5000", http.StatusInternalServerError},
		{"CL-REQ-2000", http.StatusInternalServerError},
		{"CL-REQ-40", http.StatusInternalServerError},
		{"garbage", http.StatusInternalServerError},
		{"CL-X-abcd", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusForCode(tt.code); got != tt.want {
			t.Errorf("StatusForCode(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

// Package buildinfo reports the version of cloudlock binaries.
//
// Release builds set the variables with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/cloudlock-go/internal/infra/buildinfo.Version=v1.2.0 \
//	    -X github.com/yndnr/cloudlock-go/internal/infra/buildinfo.Commit=$(git rev-parse --short HEAD)"
//
// Without them the commit and build time come from the VCS stamp that the Go
// toolchain embeds, when there is one.
package buildinfo

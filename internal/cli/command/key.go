package command

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cloudlock-go/internal/cli/output"
)

const keyAPI = "/_cloudlock/api"

// KeyCommand returns the key subcommand group.
func KeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "Manage the cluster key",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Hand the cluster private key to the leader and distribute the key hierarchy",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "private-key-file",
						Usage: "File holding the base64 PKCS#8 or PEM private key ('-' reads stdin)",
					},
					&cli.StringFlag{
						Name:    "private-key",
						Usage:   "The base64 PKCS#8 or PEM private key",
						EnvVars: []string{"CLOUDLOCK_PRIVATE_KEY"},
					},
				},
				Action: keyInit,
			},
			{
				Name:   "status",
				Usage:  "Show the key state of the node serving the request",
				Action: keyStatusAction,
			},
			{
				Name:   "encrypted",
				Usage:  "List the encrypted indices",
				Action: keyEncrypted,
			},
		},
	}
}

// readPrivateKey returns the key from --private-key or --private-key-file.
func readPrivateKey(c *cli.Context) (string, error) {
	inline, file := c.String("private-key"), c.String("private-key-file")
	switch {
	case inline != "" && file != "":
		return "", errors.New("use either --private-key or --private-key-file")
	case inline != "":
		return strings.TrimSpace(inline), nil
	case file == "":
		return "", errors.New("--private-key-file or --private-key is required")
	}

	var (
		b   []byte
		err error
	)
	if file == "-" {
		r := c.App.Reader
		if r == nil {
			r = os.Stdin
		}
		b, err = io.ReadAll(r)
	} else {
		b, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read private key: %w", err)
	}
	key := strings.TrimSpace(string(b))
	if key == "" {
		return "", fmt.Errorf("read private key: %s is empty", file)
	}
	return key, nil
}

func keyInit(c *cli.Context) error {
	key, err := readPrivateKey(c)
	if err != nil {
		return err
	}
	s, err := connect(c)
	if err != nil {
		return err
	}

	var spin *output.Spinner
	if s.table() {
		spin = output.NewSpinner(errWriter(c), "Distributing cluster key...")
		spin.Start()
	}
	finish := func(ok bool, msg string) {
		switch {
		case spin == nil:
		case ok:
			spin.Success(msg)
		default:
			spin.Fail(msg)
		}
	}

	var res initializeResponse
	_, err = s.callAllowing(http.MethodPost, keyAPI+"/_initialize_key", initializeKeyRequest{Key: key}, &res, http.StatusInternalServerError)
	if err != nil {
		finish(false, "Key initialization failed")
		return err
	}
	if res.OK {
		finish(true, fmt.Sprintf("Key %s distributed to %d node(s)", res.KeyID, len(res.Nodes)))
	} else {
		finish(false, fmt.Sprintf("Key %s distribution incomplete", res.KeyID))
	}

	if err := s.printDistribution(&res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("key distribution incomplete: %d node(s) failed", len(res.Failures))
	}
	return nil
}

// printDistribution renders the per node outcome of a key distribution.
func (s *session) printDistribution(res *initializeResponse) error {
	if !s.table() {
		return s.print(res)
	}

	failed := make(map[string]string, len(res.Failures))
	for _, f := range res.Failures {
		failed[f.NodeID] = f.Reason
	}
	ids := make([]string, 0, len(res.Nodes))
	for id := range res.Nodes {
		ids = append(ids, id)
	}
	for id := range failed {
		if _, ok := res.Nodes[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	w := writer(s.c)
	fmt.Fprintf(w, "Key ID:   %s\nCreated:  %t\nRerouted: %t\n\n", res.KeyID, res.Created, res.Rerouted)
	t := &output.Table{}
	t.SetHeaders("NODE", "NAME", "LEADER", "KEY_SET", "PERSISTED", "ERROR")
	for _, id := range ids {
		n := res.Nodes[id]
		reason := failed[id]
		if reason == "" {
			reason = "-"
		}
		t.AddRow(id, orDash(n.NodeName), fmt.Sprint(n.IsLeader), fmt.Sprint(n.KeySet), fmt.Sprint(n.KeyPersisted), reason)
	}
	return t.Render(w)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func keyStatusAction(c *cli.Context) error {
	s, err := connect(c)
	if err != nil {
		return err
	}
	var st keyStatus
	if err := s.call(http.MethodGet, keyAPI+"/_key_status", nil, &st); err != nil {
		return err
	}
	return s.print(st)
}

func keyEncrypted(c *cli.Context) error {
	s, err := connect(c)
	if err != nil {
		return err
	}
	var list encryptedIndexList
	if err := s.call(http.MethodGet, keyAPI+"/_encrypted_indices", nil, &list); err != nil {
		return err
	}
	if s.table() {
		return s.print(list.Indices)
	}
	return s.print(list)
}

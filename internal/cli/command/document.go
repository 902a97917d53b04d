package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/urfave/cli/v2"
)

// DocumentCommand returns the doc subcommand group.
func DocumentCommand() *cli.Command {
	return &cli.Command{
		Name:    "doc",
		Aliases: []string{"document"},
		Usage:   "Index, read and delete documents",
		Subcommands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "Index a JSON document",
				ArgsUsage: "INDEX ID [JSON]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Read the document from a file ('-' reads stdin)",
					},
				},
				Action: docPut,
			},
			{
				Name:      "get",
				Usage:     "Fetch a document",
				ArgsUsage: "INDEX ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "source",
						Usage: "Print only the document source",
					},
				},
				Action: docGet,
			},
			{
				Name:      "delete",
				Usage:     "Delete a document",
				ArgsUsage: "INDEX ID",
				Action:    docDelete,
			},
		},
	}
}

// documentBody returns the document of doc put from the third argument or
// --file. It must be valid JSON.
func documentBody(c *cli.Context) (json.RawMessage, error) {
	var (
		body []byte
		err  error
	)
	file := c.String("file")
	switch {
	case c.NArg() == 3 && file != "":
		return nil, errors.New("pass the document either as an argument or with --file")
	case c.NArg() == 3:
		body = []byte(c.Args().Get(2))
	case file == "-":
		r := c.App.Reader
		if r == nil {
			r = os.Stdin
		}
		body, err = io.ReadAll(r)
	case file != "":
		body, err = os.ReadFile(file)
	default:
		return nil, errors.New("doc put requires a JSON document or --file")
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if !json.Valid(body) {
		return nil, errors.New("document is not valid JSON")
	}
	return body, nil
}

func docPut(c *cli.Context) error {
	if c.NArg() < 2 || c.NArg() > 3 {
		return errors.New("doc put requires INDEX ID [JSON]")
	}
	body, err := documentBody(c)
	if err != nil {
		return err
	}
	s, err := connect(c)
	if err != nil {
		return err
	}
	var doc documentResponse
	if err := s.call(http.MethodPut, apiPath("indices", c.Args().Get(0), "_doc", c.Args().Get(1)), body, &doc); err != nil {
		return err
	}
	return s.print(doc)
}

func docGet(c *cli.Context) error {
	args, err := requireArgs(c, "INDEX", "ID")
	if err != nil {
		return err
	}
	s, err := connect(c)
	if err != nil {
		return err
	}
	var doc documentResponse
	if err := s.call(http.MethodGet, apiPath("indices", args[0], "_doc", args[1]), nil, &doc); err != nil {
		return err
	}
	if c.Bool("source") {
		return s.print(doc.Source)
	}
	return s.print(doc)
}

func docDelete(c *cli.Context) error {
	args, err := requireArgs(c, "INDEX", "ID")
	if err != nil {
		return err
	}
	s, err := connect(c)
	if err != nil {
		return err
	}
	var doc documentResponse
	if err := s.call(http.MethodDelete, apiPath("indices", args[0], "_doc", args[1]), nil, &doc); err != nil {
		return err
	}
	return s.print(doc)
}

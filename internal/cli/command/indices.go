package command

import (
	"net/http"

	"github.com/urfave/cli/v2"
)

// IndicesCommand returns the indices subcommand group.
func IndicesCommand() *cli.Command {
	return &cli.Command{
		Name:    "indices",
		Aliases: []string{"index", "idx"},
		Usage:   "Manage indices",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List indices",
				Action: indicesList,
			},
			{
				Name:      "get",
				Usage:     "Show one index",
				ArgsUsage: "NAME",
				Action:    indicesGet,
			},
			{
				Name:      "create",
				Usage:     "Create an index",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "encrypted",
						Usage: "Encrypt the index directory and translog with the cluster key",
					},
					&cli.StringFlag{
						Name:  "store-type",
						Usage: "Store type the encrypted directory wraps (default fs)",
					},
					&cli.IntFlag{
						Name:  "shards",
						Usage: "Number of primary shards (default from the server)",
					},
				},
				Action: indicesCreate,
			},
		},
	}
}

func indicesList(c *cli.Context) error {
	s, err := connect(c)
	if err != nil {
		return err
	}
	var list indexList
	if err := s.call(http.MethodGet, "/indices", nil, &list); err != nil {
		return err
	}
	if s.table() {
		return s.print(list.Indices)
	}
	return s.print(list)
}

func indicesGet(c *cli.Context) error {
	args, err := requireArgs(c, "NAME")
	if err != nil {
		return err
	}
	s, err := connect(c)
	if err != nil {
		return err
	}
	var idx indexInfo
	if err := s.call(http.MethodGet, apiPath("indices", args[0]), nil, &idx); err != nil {
		return err
	}
	return s.print(idx)
}

func indicesCreate(c *cli.Context) error {
	args, err := requireArgs(c, "NAME")
	if err != nil {
		return err
	}
	s, err := connect(c)
	if err != nil {
		return err
	}
	req := createIndexRequest{
		Shards:            c.Int("shards"),
		Encrypted:         c.Bool("encrypted"),
		StoreTypeOriginal: c.String("store-type"),
	}
	var idx indexInfo
	if err := s.call(http.MethodPut, apiPath("indices", args[0]), req, &idx); err != nil {
		return err
	}
	return s.print(idx)
}

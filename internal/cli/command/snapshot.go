package command

import (
	"net/http"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cloudlock-go/internal/cli/output"
)

// SnapshotCommand returns the snapshot subcommand group.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:    "snapshot",
		Aliases: []string{"snap"},
		Usage:   "Snapshot and restore indices",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Snapshot an index",
				ArgsUsage: "INDEX",
				Action:    snapshotCreate,
			},
			{
				Name:      "list",
				Usage:     "List the snapshots of an index",
				ArgsUsage: "INDEX",
				Action:    snapshotListAction,
			},
			{
				Name:      "get",
				Usage:     "Show one snapshot",
				ArgsUsage: "INDEX SNAPSHOT",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "verify",
						Usage: "Read every file back and check it against the manifest",
					},
				},
				Action: snapshotGet,
			},
			{
				Name:      "delete",
				Usage:     "Delete a snapshot",
				ArgsUsage: "INDEX SNAPSHOT",
				Action:    snapshotDelete,
			},
			{
				Name:      "restore",
				Usage:     "Restore a snapshot as a new index",
				ArgsUsage: "INDEX SNAPSHOT",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "target",
						Aliases:  []string{"t"},
						Usage:    "Name of the index to create",
						Required: true,
					},
				},
				Action: snapshotRestore,
			},
		},
	}
}

func snapshotCreate(c *cli.Context) error {
	args, err := requireArgs(c, "INDEX")
	if err != nil {
		return err
	}
	s, err := connect(c)
	if err != nil {
		return err
	}
	var snap snapshotInfo
	if err := s.call(http.MethodPut, apiPath("indices", args[0], "_snapshot"), nil, &snap); err != nil {
		return err
	}
	return s.print(snap)
}

func snapshotListAction(c *cli.Context) error {
	args, err := requireArgs(c, "INDEX")
	if err != nil {
		return err
	}
	s, err := connect(c)
	if err != nil {
		return err
	}
	var list snapshotList
	if err := s.call(http.MethodGet, apiPath("indices", args[0], "_snapshot"), nil, &list); err != nil {
		return err
	}
	if s.table() {
		return s.print(list.Snapshots)
	}
	return s.print(list)
}

func snapshotGet(c *cli.Context) error {
	args, err := requireArgs(c, "INDEX", "SNAPSHOT")
	if err != nil {
		return err
	}
	s, err := connect(c)
	if err != nil {
		return err
	}
	path := apiPath("indices", args[0], "_snapshot", args[1])
	if c.Bool("verify") {
		path += "?verify=true"
	}
	var snap snapshotInfo
	if err := s.call(http.MethodGet, path, nil, &snap); err != nil {
		return err
	}
	if err := s.print(snap); err != nil || !s.table() {
		return err
	}
	return s.print(snapshotFiles(snap))
}

// snapshotFiles lists the files of a snapshot as a table.
func snapshotFiles(snap snapshotInfo) *output.Table {
	t := &output.Table{}
	t.SetHeaders("SHARD", "SEQ", "FILE", "SIZE", "SHA256")
	for _, sh := range snap.Shards {
		for _, f := range sh.Files {
			t.AddRow(strconv.Itoa(sh.Shard), strconv.FormatUint(sh.Seq, 10), f.Name, strconv.FormatInt(f.Size, 10), f.Checksum)
		}
	}
	return t
}

func snapshotDelete(c *cli.Context) error {
	args, err := requireArgs(c, "INDEX", "SNAPSHOT")
	if err != nil {
		return err
	}
	s, err := connect(c)
	if err != nil {
		return err
	}
	if err := s.call(http.MethodDelete, apiPath("indices", args[0], "_snapshot", args[1]), nil, nil); err != nil {
		return err
	}
	if s.table() {
		_, err := writer(c).Write([]byte("Deleted snapshot " + args[1] + "\n"))
		return err
	}
	return s.print(map[string]any{"snapshot": args[1], "deleted": true})
}

func snapshotRestore(c *cli.Context) error {
	args, err := requireArgs(c, "INDEX", "SNAPSHOT")
	if err != nil {
		return err
	}
	s, err := connect(c)
	if err != nil {
		return err
	}
	var idx indexInfo
	path := apiPath("indices", args[0], "_snapshot", args[1], "_restore")
	if err := s.call(http.MethodPost, path, restoreRequest{Target: c.String("target")}, &idx); err != nil {
		return err
	}
	return s.print(idx)
}

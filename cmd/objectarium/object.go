package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tunnelmesh/objectarium/internal/codec"
	"github.com/tunnelmesh/objectarium/internal/ledger"
	"github.com/tunnelmesh/objectarium/internal/objectarium"
	"github.com/tunnelmesh/objectarium/pkg/bytesize"
)

func newObjectCmds(a *app) []*cobra.Command {
	var (
		compression string
		pin         bool
	)
	storeCmd := &cobra.Command{
		Use:   "store <bucket> <file|->",
		Short: "Store a file (or stdin) and print its id",
		Long: `Store the content of a file, or of stdin when the file is "-", in a bucket.
The object id is the digest of the content; storing the same content twice
returns the existing id.

Examples:
  objectarium --actor alice store photos ./cat.jpg
  tar c ./docs | objectarium --actor alice store backups - --compression zstd --pin`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStore(cmd, args, compression, pin)
		},
	}
	storeCmd.Flags().StringVar(&compression, "compression", "", "compression algorithm (default: the bucket default)")
	storeCmd.Flags().BoolVar(&pin, "pin", false, "pin the object for the acting identity")

	pinCmd := &cobra.Command{
		Use:   "pin <bucket> <id>",
		Short: "Pin an object for the acting identity",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runPin,
	}

	unpinCmd := &cobra.Command{
		Use:   "unpin <bucket> <id>",
		Short: "Remove the acting identity's pin",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runUnpin,
	}

	var force bool
	forgetCmd := &cobra.Command{
		Use:     "forget <bucket> <id>",
		Aliases: []string{"rm"},
		Short:   "Forget an object",
		Long: `Forget an unpinned object. With --force the bucket owner forgets the object
regardless of its pins, dropping all of them.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runForget(cmd, args, force)
		},
	}
	forgetCmd.Flags().BoolVar(&force, "force", false, "drop all pins and forget (bucket owner only)")

	getCmd := &cobra.Command{
		Use:   "get <bucket> <id>",
		Short: "Show object metadata",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runGet,
	}

	var ls listFlags
	lsCmd := &cobra.Command{
		Use:   "ls <bucket>",
		Short: "List objects in a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runList(cmd, args, &ls)
		},
	}
	lsCmd.Flags().StringVar(&ls.owner, "owner", "", "only objects owned by this identity")
	lsCmd.Flags().BoolVar(&ls.pinned, "pinned", false, "only pinned objects")
	lsCmd.Flags().StringVar(&ls.cursor, "cursor", "", "continue after this cursor")
	lsCmd.Flags().Uint32Var(&ls.limit, "limit", 0, "page size (default: the bucket default)")

	catCmd := &cobra.Command{
		Use:   "cat <bucket> <id>",
		Short: "Write object content to stdout",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runCat,
	}

	var pins listFlags
	pinsCmd := &cobra.Command{
		Use:   "pins <bucket> <id>",
		Short: "List the identities pinning an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPins(cmd, args, &pins)
		},
	}
	pinsCmd.Flags().StringVar(&pins.cursor, "cursor", "", "continue after this cursor")
	pinsCmd.Flags().Uint32Var(&pins.limit, "limit", 0, "page size (default: the bucket default)")

	return []*cobra.Command{storeCmd, pinCmd, unpinCmd, forgetCmd, getCmd, lsCmd, catCmd, pinsCmd}
}

type listFlags struct {
	owner  string
	pinned bool
	cursor string
	limit  uint32
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (a *app) runStore(cmd *cobra.Command, args []string, compression string, pin bool) error {
	actor, err := a.actor()
	if err != nil {
		return err
	}
	opts := objectarium.StoreOptions{Pin: pin}
	if compression != "" {
		if opts.Compression, err = codec.Parse(compression); err != nil {
			return err
		}
	}
	data, err := readInput(cmd, args[1])
	if err != nil {
		return err
	}

	return a.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
		bucket, err := resolveBucket(l, args[0], actor)
		if err != nil {
			return err
		}
		res, err := l.Store(cmd.Context(), bucket, actor, data, opts)
		if err != nil {
			return err
		}
		if a.flags.jsonOut {
			return printJSON(cmd.OutOrStdout(), res)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.ID)
		return nil
	})
}

func (a *app) runPin(cmd *cobra.Command, args []string) error {
	actor, err := a.actor()
	if err != nil {
		return err
	}
	return a.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
		bucket, err := resolveBucket(l, args[0], actor)
		if err != nil {
			return err
		}
		res, err := l.Pin(cmd.Context(), bucket, objectarium.ObjectID(args[1]), actor)
		if err != nil {
			return err
		}
		if a.flags.jsonOut {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if res.NewlyPinned {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pinned (%d pins)\n", res.PinCount)
		} else {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Already pinned (%d pins)\n", res.PinCount)
		}
		return nil
	})
}

func (a *app) runUnpin(cmd *cobra.Command, args []string) error {
	actor, err := a.actor()
	if err != nil {
		return err
	}
	return a.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
		bucket, err := resolveBucket(l, args[0], actor)
		if err != nil {
			return err
		}
		res, err := l.Unpin(cmd.Context(), bucket, objectarium.ObjectID(args[1]), actor)
		if err != nil {
			return err
		}
		if a.flags.jsonOut {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if res.WasPinned {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Unpinned (%d pins)\n", res.PinCount)
		} else {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Not pinned (%d pins)\n", res.PinCount)
		}
		return nil
	})
}

func (a *app) runForget(cmd *cobra.Command, args []string, force bool) error {
	actor, err := a.actor()
	if err != nil {
		return err
	}
	return a.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
		bucket, err := resolveBucket(l, args[0], actor)
		if err != nil {
			return err
		}
		id := objectarium.ObjectID(args[1])

		if !force {
			if err := l.Forget(cmd.Context(), bucket, id, actor); err != nil {
				return err
			}
			if a.flags.jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"id": id, "forgotten": true})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", id)
			return nil
		}

		dropped, err := l.ForceForget(cmd.Context(), bucket, id, actor)
		if err != nil {
			return err
		}
		if a.flags.jsonOut {
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"id": id, "forgotten": true, "dropped_pins": dropped})
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s (dropped %d pins)\n", id, dropped)
		return nil
	})
}

// objectDetails is the output of get.
type objectDetails struct {
	objectarium.ObjectMetadata
	Bucket      objectarium.BucketID `json:"bucket"`
	CID         string               `json:"cid"`
	Compression codec.Algorithm      `json:"compression"`
	PinCount    uint64               `json:"pin_count"`
	CreatedAt   string               `json:"created_at"`
}

func (a *app) runGet(cmd *cobra.Command, args []string) error {
	return a.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
		bucket, err := resolveBucket(l, args[0], objectarium.Actor(a.cfg.Actor))
		if err != nil {
			return err
		}
		id := objectarium.ObjectID(args[1])
		meta, ok := l.Get(bucket, id)
		if !ok {
			return fmt.Errorf("%w: %s", objectarium.ErrObjectNotFound, id)
		}
		obj, err := l.Object(bucket, id)
		if err != nil {
			return err
		}
		pinCount, err := l.PinCount(bucket, id)
		if err != nil {
			return err
		}
		info, err := l.Bucket(bucket)
		if err != nil {
			return err
		}
		c, err := info.Config.HashAlgorithm.CID(string(id))
		if err != nil {
			return err
		}

		details := objectDetails{
			ObjectMetadata: meta,
			Bucket:         bucket,
			CID:            c.String(),
			Compression:    obj.Compression,
			PinCount:       pinCount,
			CreatedAt:      obj.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if a.flags.jsonOut {
			return printJSON(cmd.OutOrStdout(), details)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "ID:\t%s\n", details.ID)
		_, _ = fmt.Fprintf(w, "CID:\t%s\n", details.CID)
		_, _ = fmt.Fprintf(w, "Owner:\t%s\n", details.Owner)
		_, _ = fmt.Fprintf(w, "Size:\t%s\n", bytesize.Format(details.Size))
		_, _ = fmt.Fprintf(w, "Compressed:\t%s (%s)\n", bytesize.Format(details.CompressedSize), details.Compression)
		_, _ = fmt.Fprintf(w, "Pins:\t%d\n", details.PinCount)
		_, _ = fmt.Fprintf(w, "Created:\t%s\n", details.CreatedAt)
		_ = w.Flush()
		return nil
	})
}

func (a *app) runList(cmd *cobra.Command, args []string, f *listFlags) error {
	return a.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
		bucket, err := resolveBucket(l, args[0], objectarium.Actor(a.cfg.Actor))
		if err != nil {
			return err
		}
		filter := objectarium.Filter{Owner: objectarium.Actor(f.owner), PinnedOnly: f.pinned}
		page, err := l.List(bucket, filter, f.cursor, f.limit)
		if err != nil {
			return err
		}
		if a.flags.jsonOut {
			return printJSON(cmd.OutOrStdout(), page)
		}
		if len(page.Items) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No objects found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tOWNER\tSIZE\tCOMPRESSED\tPINNED")
		for _, o := range page.Items {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%t\n", o.ID, o.Owner, o.Size, o.CompressedSize, o.IsPinned)
		}
		_ = w.Flush()
		if page.HasNextPage {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nMore objects: --cursor %s\n", page.Cursor)
		}
		return nil
	})
}

func (a *app) runCat(cmd *cobra.Command, args []string) error {
	return a.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
		bucket, err := resolveBucket(l, args[0], objectarium.Actor(a.cfg.Actor))
		if err != nil {
			return err
		}
		data, err := l.ObjectData(bucket, objectarium.ObjectID(args[1]))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	})
}

func (a *app) runPins(cmd *cobra.Command, args []string, f *listFlags) error {
	return a.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
		bucket, err := resolveBucket(l, args[0], objectarium.Actor(a.cfg.Actor))
		if err != nil {
			return err
		}
		page, err := l.ObjectPins(bucket, objectarium.ObjectID(args[1]), f.cursor, f.limit)
		if err != nil {
			return err
		}
		if a.flags.jsonOut {
			return printJSON(cmd.OutOrStdout(), page)
		}
		for _, actor := range page.Items {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), actor)
		}
		if page.HasNextPage {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nMore pins: --cursor %s\n", page.Cursor)
		}
		return nil
	})
}

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tunnelmesh/objectarium/internal/config"
	"github.com/tunnelmesh/objectarium/internal/ledger"
	"github.com/tunnelmesh/objectarium/internal/objectarium"
	"github.com/tunnelmesh/objectarium/pkg/bytesize"
)

type bucketCreateFlags struct {
	file           string
	hash           string
	compressions   []string
	immutable      bool
	maxBucketSize  bytesize.Size
	maxObjectSize  bytesize.Size
	maxObjectCount uint64
	maxObjectPins  uint64
}

func newBucketCmd(a *app) *cobra.Command {
	bucketCmd := &cobra.Command{
		Use:     "bucket",
		Aliases: []string{"buckets"},
		Short:   "Manage buckets",
		Long: `Manage buckets. A bucket is identified by a UUID derived from its owner
and name; commands accept either the UUID or the name.

Examples:
  # Create a bucket that only accepts zstd and passthrough, limited to 1Gi
  objectarium --actor alice bucket create photos --compression zstd --compression passthrough --max-bucket-size 1Gi

  # Create a bucket from a definition file
  objectarium --actor alice bucket create --file bucket.yaml

  # Show a bucket's configuration and usage
  objectarium bucket info photos

  # List all buckets
  objectarium bucket list`,
	}

	var f bucketCreateFlags
	createCmd := &cobra.Command{
		Use:   "create [bucket-name]",
		Short: "Create a new bucket",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBucketCreate(cmd, args, &f)
		},
	}
	createCmd.Flags().StringVarP(&f.file, "file", "f", "", "bucket definition file (YAML)")
	createCmd.Flags().StringVar(&f.hash, "hash", "", "hash algorithm (md5, sha224, sha256, sha384, sha512, sha3-256, blake3)")
	createCmd.Flags().StringArrayVar(&f.compressions, "compression", nil, "accepted compression algorithm, first is the default (repeatable)")
	createCmd.Flags().BoolVar(&f.immutable, "immutable", false, "objects can never be forgotten")
	createCmd.Flags().Var(newSizeValue(&f.maxBucketSize), "max-bucket-size", "maximum total raw size (e.g. 10Gi)")
	createCmd.Flags().Var(newSizeValue(&f.maxObjectSize), "max-object-size", "maximum raw size of one object (e.g. 5MB)")
	createCmd.Flags().Uint64Var(&f.maxObjectCount, "max-object-count", 0, "maximum number of objects")
	createCmd.Flags().Uint64Var(&f.maxObjectPins, "max-object-pins", 0, "maximum number of pinners per object")
	bucketCmd.AddCommand(createCmd)

	infoCmd := &cobra.Command{
		Use:   "info <bucket>",
		Short: "Show bucket configuration and usage",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runBucketInfo,
	}
	bucketCmd.AddCommand(infoCmd)

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all buckets",
		Args:    cobra.NoArgs,
		RunE:    a.runBucketList,
	}
	bucketCmd.AddCommand(listCmd)

	return bucketCmd
}

// sizeValue adapts bytesize.Size to a pflag.Value.
type sizeValue struct {
	size *bytesize.Size
}

func newSizeValue(s *bytesize.Size) *sizeValue {
	return &sizeValue{size: s}
}

func (v *sizeValue) String() string {
	if v.size == nil || *v.size == 0 {
		return ""
	}
	return v.size.String()
}

func (v *sizeValue) Set(s string) error {
	return v.size.UnmarshalText([]byte(s))
}

func (v *sizeValue) Type() string {
	return "size"
}

// bucketFile merges the definition file, if any, with the command line.
// Flags override the file.
func (f *bucketCreateFlags) bucketFile(cmd *cobra.Command, args []string) (*config.BucketFile, error) {
	bf := &config.BucketFile{}
	if f.file != "" {
		var err error
		if bf, err = config.LoadBucketFile(f.file); err != nil {
			return nil, err
		}
	}
	if len(args) == 1 {
		bf.Name = args[0]
	}
	if bf.Name == "" {
		return nil, fmt.Errorf("bucket name required: pass it as an argument or in --file")
	}

	flags := cmd.Flags()
	if flags.Changed("hash") {
		bf.HashAlgorithm = f.hash
	}
	if flags.Changed("compression") {
		bf.AcceptedCompressions = f.compressions
	}
	if flags.Changed("immutable") {
		mutable := !f.immutable
		bf.Mutable = &mutable
	}
	if flags.Changed("max-bucket-size") {
		bf.Limits.MaxBucketSize = f.maxBucketSize
	}
	if flags.Changed("max-object-size") {
		bf.Limits.MaxObjectSize = f.maxObjectSize
	}
	if flags.Changed("max-object-count") {
		bf.Limits.MaxObjectCount = f.maxObjectCount
	}
	if flags.Changed("max-object-pins") {
		bf.Limits.MaxObjectPins = f.maxObjectPins
	}
	return bf, nil
}

func (a *app) runBucketCreate(cmd *cobra.Command, args []string, f *bucketCreateFlags) error {
	actor, err := a.actor()
	if err != nil {
		return err
	}
	bf, err := f.bucketFile(cmd, args)
	if err != nil {
		return err
	}
	cfg, err := bf.BucketConfig(a.cfg.Pagination)
	if err != nil {
		return err
	}

	return a.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
		id, err := l.CreateBucket(cmd.Context(), actor, cfg)
		if err != nil {
			return err
		}
		info, err := l.Bucket(id)
		if err != nil {
			return err
		}
		if a.flags.jsonOut {
			return printJSON(cmd.OutOrStdout(), info)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Bucket %q ready: %s\n", info.Config.Name, info.ID)
		return nil
	})
}

func (a *app) runBucketInfo(cmd *cobra.Command, args []string) error {
	return a.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
		id, err := resolveBucket(l, args[0], objectarium.Actor(a.cfg.Actor))
		if err != nil {
			return err
		}
		info, err := l.Bucket(id)
		if err != nil {
			return err
		}
		if a.flags.jsonOut {
			return printJSON(cmd.OutOrStdout(), info)
		}
		printBucketInfo(cmd.OutOrStdout(), info)
		return nil
	})
}

func printBucketInfo(out io.Writer, info objectarium.BucketInfo) {
	cfg := info.Config
	compressions := make([]string, len(cfg.AcceptedCompressions))
	for i, c := range cfg.AcceptedCompressions {
		compressions[i] = c.String()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", info.ID)
	_, _ = fmt.Fprintf(w, "Name:\t%s\n", cfg.Name)
	_, _ = fmt.Fprintf(w, "Owner:\t%s\n", info.Owner)
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", info.CreatedAt.Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(w, "Hash:\t%s\n", cfg.HashAlgorithm)
	_, _ = fmt.Fprintf(w, "Compression:\t%s\n", strings.Join(compressions, ", "))
	_, _ = fmt.Fprintf(w, "Mutable:\t%t\n", cfg.Mutable)
	_, _ = fmt.Fprintf(w, "Objects:\t%d\t(max %s)\n", info.Stat.ObjectCount, formatCount(cfg.Limits.MaxObjectCount))
	_, _ = fmt.Fprintf(w, "Size:\t%s\t(max %s)\n", bytesize.Format(info.Stat.Size), bytesize.FormatLimit(cfg.Limits.MaxBucketSize))
	_, _ = fmt.Fprintf(w, "Compressed:\t%s\n", bytesize.Format(info.Stat.CompressedSize))
	_, _ = fmt.Fprintf(w, "Max object size:\t%s\n", bytesize.FormatLimit(cfg.Limits.MaxObjectSize))
	_, _ = fmt.Fprintf(w, "Max pins:\t%s\n", formatCount(cfg.Limits.MaxObjectPins))
	_, _ = fmt.Fprintf(w, "Pins:\t%d\n", info.Pins)
	_, _ = fmt.Fprintf(w, "Page size:\t%d\t(max %d)\n", cfg.Pagination.DefaultPageSize, cfg.Pagination.MaxPageSize)
	_ = w.Flush()
}

func formatCount(n uint64) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func (a *app) runBucketList(cmd *cobra.Command, args []string) error {
	return a.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
		buckets := l.Buckets()
		if a.flags.jsonOut {
			return printJSON(cmd.OutOrStdout(), buckets)
		}
		if len(buckets) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No buckets found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tOWNER\tOBJECTS\tSIZE\tUSED\tID")
		for _, b := range buckets {
			used := "-"
			if b.Config.Limits.MaxBucketSize > 0 {
				used = fmt.Sprintf("%.1f%%", float64(b.Stat.Size)/float64(b.Config.Limits.MaxBucketSize)*100)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				b.Config.Name, b.Owner, b.Stat.ObjectCount, bytesize.Format(b.Stat.Size), used, b.ID)
		}
		_ = w.Flush()
		return nil
	})
}

// resolveBucket maps a bucket reference to its id. A reference is a bucket
// UUID or a name; names owned by actor win over names owned by others.
func resolveBucket(l *ledger.Ledger, ref string, actor objectarium.Actor) (objectarium.BucketID, error) {
	if _, err := uuid.Parse(ref); err == nil {
		if _, err := l.Bucket(objectarium.BucketID(ref)); err == nil {
			return objectarium.BucketID(ref), nil
		}
	}

	if actor != "" {
		id := objectarium.NewBucketID(actor, ref)
		if _, err := l.Bucket(id); err == nil {
			return id, nil
		}
	}

	var matches []objectarium.BucketID
	for _, b := range l.Buckets() {
		if b.Config.Name == ref {
			matches = append(matches, b.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", objectarium.ErrBucketNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("bucket name %q is ambiguous (%d owners): use the bucket id", ref, len(matches))
	}
}

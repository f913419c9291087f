package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ndlib/holey"
	"github.com/ndlib/holey/bagit"
)

// metadataFlags are the flags which add bag-info.txt tags.
type metadataFlags struct {
	tags     []string
	infoFile string
	jsonFile string
}

func (m *metadataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&m.tags, "tag", "t", nil, "bag-info.txt tag as Name=Value (repeatable)")
	cmd.Flags().StringVar(&m.infoFile, "info", "", "file of bag-info.txt tags to add")
	cmd.Flags().StringVar(&m.jsonFile, "info-json", "", "JSON object of bag-info.txt tags to add")
}

// metadata returns the tags given on the command line, or nil if there are
// none.
func (m *metadataFlags) metadata() (*bagit.TagList, error) {
	result := new(bagit.TagList)
	if m.infoFile != "" {
		f, err := os.Open(m.infoFile)
		if err != nil {
			return nil, err
		}
		tags, err := bagit.ParseTags(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrap(err, m.infoFile)
		}
		result.Merge(tags)
	}
	if m.jsonFile != "" {
		f, err := os.Open(m.jsonFile)
		if err != nil {
			return nil, err
		}
		tags, err := parseJSONTags(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrap(err, m.jsonFile)
		}
		result.Merge(tags)
	}
	for _, kv := range m.tags {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errors.Errorf("tag %q is not of the form Name=Value", kv)
		}
		result.Add(k, strings.TrimSpace(v))
	}
	if result.Len() == 0 {
		return nil, nil
	}
	return result, nil
}

// parseJSONTags reads a JSON object of tags. Values may be strings,
// numbers, booleans or arrays of strings. Objects and other arrays cannot
// be written to bag-info.txt and give bagit.ErrUnsupportedNested.
func parseJSONTags(r io.Reader) (*bagit.TagList, error) {
	obj, err := jason.NewObjectFromReader(r)
	if err != nil {
		return nil, err
	}
	values := obj.Map()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := new(bagit.TagList)
	for _, k := range keys {
		if err := result.SetValue(k, jsonValue(values[k])); err != nil {
			return nil, errors.Wrapf(err, "tag %s", k)
		}
	}
	return result, nil
}

func jsonValue(v *jason.Value) interface{} {
	if s, err := v.String(); err == nil {
		return s
	}
	if n, err := v.Int64(); err == nil {
		return n
	}
	if f, err := v.Float64(); err == nil {
		return f
	}
	if b, err := v.Boolean(); err == nil {
		return b
	}
	if a, err := v.StringArray(); err == nil {
		return a
	}
	return v.Interface()
}

func loadRemote(fname string) ([]holey.RemoteFile, error) {
	if fname == "" {
		return nil, nil
	}
	return holey.LoadRemoteManifest(fname)
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var algorithms []string
	var remote string
	var meta metadataFlags

	cmd := &cobra.Command{
		Use:   "create <dir>",
		Short: "Turn a directory into a bag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBagger()
			if err != nil {
				return err
			}
			opts := holey.CreateOptions{Algorithms: algorithms}
			if opts.Metadata, err = meta.metadata(); err != nil {
				return err
			}
			if opts.Remote, err = loadRemote(remote); err != nil {
				return err
			}
			if err := b.Create(cmd.Context(), args[0], opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created bag %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&algorithms, "alg", "a", nil, "checksum algorithms (default from config)")
	cmd.Flags().StringVarP(&remote, "remote", "r", "", "remote file manifest to add to fetch.txt")
	meta.register(cmd)
	return cmd
}

func newUpdateCommand(ctx *commandContext) *cobra.Command {
	var opts holey.UpdateOptions
	var remote string
	var meta metadataFlags

	cmd := &cobra.Command{
		Use:   "update <dir>",
		Short: "Bring a bag's manifests and tags up to date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBagger()
			if err != nil {
				return err
			}
			if opts.Metadata, err = meta.metadata(); err != nil {
				return err
			}
			if opts.Remote, err = loadRemote(remote); err != nil {
				return err
			}
			if err := b.Update(cmd.Context(), args[0], opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated bag %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&opts.Algorithms, "alg", "a", nil, "make these the bag's checksum algorithms")
	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "remove manifests for other algorithms")
	cmd.Flags().BoolVar(&opts.Rehash, "rehash", false, "checksum every payload file again")
	cmd.Flags().BoolVar(&opts.ReplaceConflicts, "replace", false, "let remote files replace local files at the same path")
	cmd.Flags().StringVarP(&remote, "remote", "r", "", "remote file manifest to add to fetch.txt")
	meta.register(cmd)
	return cmd
}

func newRevertCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "revert <dir>",
		Short: "Turn a bag back into a plain directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBagger()
			if err != nil {
				return err
			}
			if err := b.Revert(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reverted %s\n", args[0])
			return nil
		},
	}
}

func newIsBagCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "is-bag <dir>",
		Short: "Exit with success if the directory is a bag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !holey.IsBag(args[0]) {
				return errors.Errorf("%s is not a bag", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is a bag\n", args[0])
			return nil
		},
	}
}

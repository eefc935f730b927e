package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/dss"
	"pkt.systems/pslog"
)

func newPutCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <file|->",
		Short: "Upload a file (or stdin) under key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, baseLogger, "put", true)
			if err != nil {
				return err
			}
			defer s.Close()
			key, src := args[0], args[1]
			start := time.Now()
			var size int64
			if src == "-" {
				counter := &countingReader{r: cmd.InOrStdin()}
				if err := s.client.PutObjectStream(cmd.Context(), key, counter, -1); err != nil {
					return err
				}
				size = counter.n
			} else {
				info, err := os.Stat(src)
				if err != nil {
					return fmt.Errorf("stat %s: %w", src, err)
				}
				if err := s.client.PutObject(cmd.Context(), key, src); err != nil {
					return err
				}
				size = info.Size()
			}
			s.logger.Info("cli.put.success", "key", key, "size", size, "elapsed", time.Since(start))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%s)\n", key, humanizeBytes(size))
			return err
		},
	}
}

func newGetCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key> [dest|-]",
		Short: "Download key to a file or stdout",
		Long:  "Download key. Without a destination, or with -, the object is written to stdout.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, baseLogger, "get", true)
			if err != nil {
				return err
			}
			defer s.Close()
			key := args[0]
			if len(args) == 2 && args[1] != "-" {
				dest, err := expandPath(args[1])
				if err != nil {
					return err
				}
				if err := s.client.GetObject(cmd.Context(), key, dest); err != nil {
					return err
				}
				info, err := os.Stat(dest)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.ErrOrStderr(), "downloaded %s to %s (%s)\n", key, dest, humanizeBytes(info.Size()))
				return err
			}
			rc, _, err := s.client.GetObjectStream(cmd.Context(), key)
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(cmd.OutOrStdout(), rc)
			return err
		},
	}
}

func newRemoveCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>...",
		Aliases: []string{"delete"},
		Short:   "Delete one or more keys",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, baseLogger, "rm", true)
			if err != nil {
				return err
			}
			defer s.Close()
			for _, key := range args {
				if err := s.client.DeleteObject(cmd.Context(), key); err != nil {
					return fmt.Errorf("delete %s: %w", key, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
			}
			return nil
		},
	}
}

func newListCommand(baseLogger pslog.Logger) *cobra.Command {
	var (
		delimiter string
		prefixes  bool
		pageSize  int
		all       bool
	)
	cmd := &cobra.Command{
		Use:     "ls [prefix]",
		Aliases: []string{"list"},
		Short:   "List keys across every cluster",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, baseLogger, "ls", true)
			if err != nil {
				return err
			}
			defer s.Close()
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			opts := []dss.ListOption{dss.WithDelimiter(delimiter)}
			if prefixes {
				opts = append(opts, dss.WithCommonPrefixes())
			}
			out := cmd.OutOrStdout()
			if all {
				keys, err := s.client.ListAll(cmd.Context(), prefix, opts...)
				if err != nil {
					return err
				}
				for _, key := range keys {
					fmt.Fprintln(out, key)
				}
				return nil
			}
			opts = append(opts, dss.WithPageSize(pageSize))
			cur, err := s.client.GetObjects(prefix, opts...)
			if err != nil {
				return err
			}
			pages := 0
			for {
				more, err := cur.Advance(cmd.Context())
				if err != nil {
					return err
				}
				for _, key := range cur.Page() {
					fmt.Fprintln(out, key)
				}
				pages++
				if !more {
					break
				}
			}
			s.logger.Debug("cli.ls.done", "prefix", prefix, "pages", pages)
			return nil
		},
	}
	cmd.Flags().StringVarP(&delimiter, "delimiter", "d", "", "group keys sharing a prefix up to this delimiter")
	cmd.Flags().BoolVar(&prefixes, "prefixes", false, "include common prefixes in the output")
	cmd.Flags().IntVar(&pageSize, "page-size", 1000, "keys fetched per page")
	cmd.Flags().BoolVar(&all, "all", false, "collect every key in one pass instead of paging")
	return cmd
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

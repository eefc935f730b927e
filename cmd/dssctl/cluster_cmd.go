package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/dss"
	"pkt.systems/pslog"
)

func newRouteCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "route <key>...",
		Short: "Show the cluster, bucket and replica serving each key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, baseLogger, "route", false)
			if err != nil {
				return err
			}
			defer s.Close()
			for _, key := range args {
				p, err := s.client.Locate(key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tcluster=%d\tbucket=%s\tendpoint=%s\n", p.Key, p.Cluster, p.Bucket, p.Endpoint)
			}
			return nil
		},
	}
}

func newTopologyCommand(baseLogger pslog.Logger) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Print the loaded clusters and the replicas this instance uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, baseLogger, "topology", false)
			if err != nil {
				return err
			}
			defer s.Close()
			topo := s.client.Topology()
			out := cmd.OutOrStdout()
			switch format {
			case "yaml", "":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(topo); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(topo)
			default:
				return fmt.Errorf("unknown output format %q", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "output format (yaml, json)")
	return cmd
}

func newVerifyCommand(baseLogger pslog.Logger) *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every cluster bucket exists",
		Long:  "Check that every cluster bucket exists. With --create, missing buckets are created first and the check waits out the topology wait time.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, baseLogger, "verify", false)
			if err != nil {
				return err
			}
			defer s.Close()
			if create {
				if err := s.client.VerifyClusterConf(cmd.Context()); err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), dss.BucketsAllGood.String())
				return err
			}
			status, err := s.client.DetectClusterBuckets(cmd.Context(), false)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			if status != dss.BucketsAllGood {
				return fmt.Errorf("cluster buckets %s", status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "create missing buckets before checking")
	return cmd
}

func newLockCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Try to take the cluster-wide advisory lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, baseLogger, "lock", false)
			if err != nil {
				return err
			}
			defer s.Close()
			ok, err := s.client.TryLock(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("lock is held elsewhere")
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "locked")
			return err
		},
	}
}

func newUnlockCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Release the cluster-wide advisory lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, baseLogger, "unlock", false)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.client.Unlock(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "unlocked")
			return err
		},
	}
}

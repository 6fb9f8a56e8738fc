package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"ehranchor/model"
)

func newRegisterCmd(opts *options) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:     "register <patient-id>",
		Short:   "Register a patient on the ledger",
		Example: "  ehrctl register P1 --owner Org1MSP",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			ref, err := opts.client().RegisterPatient(ctx, args[0], owner)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), ref, func(w io.Writer) { printPatient(w, ref) })
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "Org1MSP", "Owning organization MSP id")
	return cmd
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <patient-id>",
		Short: "Show the current patient reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			ref, err := opts.client().Patient(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), ref, func(w io.Writer) { printPatient(w, ref) })
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <patient-id>",
		Short: "List every committed version of the patient reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			records, err := opts.client().History(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), records, func(w io.Writer) {
				for _, r := range records {
					doc := "-"
					if r.HasDocument() {
						doc = fmt.Sprintf("%s %s %s bytes", model.StringValue(r.LatestCid), model.StringValue(r.Mime), model.StringValue(r.Size))
					}
					fmt.Fprintf(w, "%s  %s  %s\n", r.TxID, r.Timestamp, doc)
				}
			})
		},
	}
}

func newAnchorCmd(opts *options) *cobra.Command {
	var mimeType string
	cmd := &cobra.Command{
		Use:     "anchor <patient-id> <file>",
		Short:   "Encrypt a document, store it and record its fingerprint",
		Example: "  ehrctl anchor P1 report.pdf --mime application/pdf",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			receipt, err := opts.client().Anchor(ctx, args[0], filepath.Base(args[1]), data, mimeType)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), receipt, func(w io.Writer) {
				fmt.Fprintf(w, "Address:     %s\nFingerprint: %s\nMime:        %s\nSize:        %d\nUpdated:     %s\nTx:          %s\n",
					receipt.Address, receipt.Fingerprint, receipt.Mime, receipt.Size, receipt.UpdatedAt, receipt.TxID)
			})
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "Content type; detected by the server when empty")
	return cmd
}

func newVerifyCmd(opts *options) *cobra.Command {
	var txID string
	cmd := &cobra.Command{
		Use:   "verify <patient-id>",
		Short: "Check the stored document against its ledger fingerprint",
		Long:  "Check the stored document against its ledger fingerprint. Exits non-zero when the check fails.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			result, err := opts.client().Verify(ctx, args[0], txID)
			if err != nil {
				return err
			}
			err = opts.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				status := "OK"
				if !result.OK {
					status = "MISMATCH"
				}
				fmt.Fprintf(w, "%s  %s  %s  %s\n", status, result.Address, result.UpdatedAt, result.Mime)
			})
			if err != nil {
				return err
			}
			if !result.OK {
				return fmt.Errorf("document of patient %s failed verification", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&txID, "tx", "", "Verify the version written by this transaction")
	return cmd
}

func newFetchCmd(opts *options) *cobra.Command {
	var txID, out string
	cmd := &cobra.Command{
		Use:   "fetch <patient-id>",
		Short: "Download and decrypt the anchored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			doc, err := opts.client().Fetch(ctx, args[0], txID)
			if err != nil {
				return err
			}
			if out == "" {
				out = doc.Filename
			}
			if err := writeOutput(cmd.OutOrStdout(), out, doc.Data); err != nil {
				return err
			}
			if out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes (%s) to %s\n", len(doc.Data), doc.Mime, out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&txID, "tx", "", "Fetch the version written by this transaction")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file, - for stdout (default: server-suggested name)")
	return cmd
}

func newPrivateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "private",
		Short: "Read or write the patient's private payload",
	}

	put := &cobra.Command{
		Use:   "put <patient-id> <file>",
		Short: "Seal a file into the private collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			receipt, err := opts.client().PutPrivate(ctx, args[0], data)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), receipt, func(w io.Writer) {
				fmt.Fprintf(w, "Fingerprint: %s\nSize:        %d\nTx:          %s\n", receipt.Fingerprint, receipt.Size, receipt.TxID)
			})
		},
	}

	var out string
	get := &cobra.Command{
		Use:   "get <patient-id>",
		Short: "Read and open the private payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			data, err := opts.client().GetPrivate(ctx, args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), out, data)
		},
	}
	get.Flags().StringVarP(&out, "out", "o", "-", "Output file, - for stdout")

	cmd.AddCommand(put, get)
	return cmd
}

func newOrphansCmd(opts *options) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List stored objects whose ledger write was never confirmed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			entries, err := opts.client().Orphans(ctx, olderThan)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), entries, func(w io.Writer) {
				for _, e := range entries {
					fmt.Fprintf(w, "%s  %-8s  %s  %s  %s\n", e.ID, e.State, e.PatientID, e.Address, e.UpdatedAt.Format(time.RFC3339))
				}
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "Only attempts last touched before this long ago")
	return cmd
}

func printPatient(w io.Writer, ref *model.PatientReference) {
	fmt.Fprintf(w, "Patient:  %s\nOwner:    %s\nCreated:  %s\nUpdated:  %s\n", ref.PatientID, ref.OwnerOrg, ref.CreatedAt, ref.UpdatedAt)
	if ref.HasDocument() {
		fmt.Fprintf(w, "Document: %s\nSHA-256:  %s\nMime:     %s\nSize:     %s\n",
			model.StringValue(ref.LatestCid), model.StringValue(ref.LatestDocHash), model.StringValue(ref.Mime), model.StringValue(ref.Size))
	} else {
		fmt.Fprintln(w, "Document: none")
	}
}

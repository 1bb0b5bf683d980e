package main

import (
	"encoding/json"
	"fmt"

	goPortal "github.com/MrEthical07/goPortal"
	"github.com/spf13/cobra"
)

type decisionView struct {
	Route       string                `json:"route"`
	Verdict     string                `json:"verdict"`
	Redirect    string                `json:"redirect,omitempty"`
	Screen      string                `json:"screen,omitempty"`
	ExternalURL string                `json:"external_url,omitempty"`
	ClearErrors bool                  `json:"clear_errors,omitempty"`
	Patch       goPortal.SessionPatch `json:"patch,omitempty"`
}

func newDecisionView(org string, route goPortal.Route, d goPortal.Decision) decisionView {
	v := decisionView{
		Route:       string(route),
		Verdict:     d.Verdict.Kind.String(),
		Screen:      string(d.Screen),
		ExternalURL: d.ExternalURL,
		ClearErrors: d.ClearErrors,
		Patch:       d.Patch,
	}
	if d.Verdict.Kind == goPortal.VerdictRedirect {
		v.Redirect = goPortal.Path(org, d.Verdict.Target)
	}
	return v
}

func newClassifyCmd() *cobra.Command {
	var orgPath, sessionPath string

	cmd := &cobra.Command{
		Use:   "classify <path>",
		Short: "Classify a portal path for a session",
		Long: `Classify runs the access rules for one portal path. The token
validation step is assumed to succeed; allowed payment routes are resolved
with the payment status table.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := loadPolicy(orgPath)
			if err != nil {
				return err
			}
			session, err := loadSessionFixture(sessionPath)
			if err != nil {
				return err
			}

			req := goPortal.ParseRoute(args[0])
			if req.Org() != policy.Slug {
				return fmt.Errorf("path organization %q does not match %q", req.Org(), policy.Slug)
			}

			d := goPortal.Decision{Verdict: goPortal.Classify(session, policy, req)}
			if d.Verdict.Kind == goPortal.VerdictAllow {
				switch req.Route {
				case goPortal.RoutePaymentStatus, goPortal.RoutePaymentDraft:
					d = goPortal.ResolvePayment(session, policy, req.PaymentStatus())
				case goPortal.RoutePaymentProcess:
					d = goPortal.PaymentProcessEntry(session, policy)
				}
			}

			return writeJSON(cmd, newDecisionView(policy.Slug, req.Route, d))
		},
	}

	cmd.Flags().StringVar(&orgPath, "org", "", "organization YAML file")
	cmd.Flags().StringVar(&sessionPath, "session", "", "session YAML fixture (anonymous when empty)")
	return cmd
}

func newPaymentCmd() *cobra.Command {
	var orgPath, sessionPath string

	cmd := &cobra.Command{
		Use:       "payment <success|failed|draft|pending>",
		Short:     "Resolve a payment status for a session",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{goPortal.PaymentStatusSuccess, goPortal.PaymentStatusFailed, goPortal.PaymentStatusDraft, goPortal.PaymentStatusPending},
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := loadPolicy(orgPath)
			if err != nil {
				return err
			}
			session, err := loadSessionFixture(sessionPath)
			if err != nil {
				return err
			}

			d := goPortal.ResolvePayment(session, policy, args[0])
			return writeJSON(cmd, newDecisionView(policy.Slug, goPortal.RoutePaymentStatus, d))
		},
	}

	cmd.Flags().StringVar(&orgPath, "org", "", "organization YAML file")
	cmd.Flags().StringVar(&sessionPath, "session", "", "session YAML fixture")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

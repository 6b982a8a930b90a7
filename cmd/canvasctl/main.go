package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"canvas-sync/internal/notes"
	"canvas-sync/pkg/auth"
)

func main() {
	cl := &client{
		BaseURL: envOr("CANVAS_URL", "http://localhost:8080"),
		Project: envOr("CANVAS_PROJECT", "default"),
		Token:   envOr("CANVAS_TOKEN", ""),
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}

	root := &cobra.Command{
		Use:          "canvasctl",
		Short:        "Client for the canvas-sync server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cl.BaseURL, "url", cl.BaseURL, "server base URL (env CANVAS_URL)")
	root.PersistentFlags().StringVarP(&cl.Project, "project", "p", cl.Project, "project scope (env CANVAS_PROJECT)")
	root.PersistentFlags().StringVar(&cl.Token, "token", cl.Token, "bearer token (env CANVAS_TOKEN)")

	root.AddCommand(tokenCmd(), notesCmd(cl), blobsCmd(cl), watchCmd(cl))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func tokenCmd() *cobra.Command {
	var secret, sub string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API token with the server's JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("--secret is required (or env JWT_SECRET)")
			}
			tok, err := auth.New(secret).Sign(sub, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", envOr("JWT_SECRET", ""), "HS256 secret")
	cmd.Flags().StringVar(&sub, "sub", "canvasctl", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func notesCmd(cl *client) *cobra.Command {
	cmd := &cobra.Command{Use: "notes", Short: "Read and edit sticky notes"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the notes of the project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := cl.call(cmd.Context(), http.MethodGet, "/notes", nil)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), out)
			return nil
		},
	})

	var text string
	var x, y, z float64
	put := &cobra.Command{
		Use:   "put NOTE_ID",
		Short: "Add or replace a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.mutate(cmd.Context(), func(ctx context.Context, clientID string) ([]byte, error) {
				return cl.call(ctx, http.MethodPost, "/notes", map[string]any{
					"clientId": clientID,
					"noteId":   args[0],
					"noteText": text,
					"notePos":  notes.Position{X: x, Y: y, Z: z},
				})
			}, cmd.OutOrStdout())
		},
	}
	put.Flags().StringVar(&text, "text", "", "note text")
	put.Flags().Float64Var(&x, "x", 0, "x position")
	put.Flags().Float64Var(&y, "y", 0, "y position")
	put.Flags().Float64Var(&z, "z", 0, "z position")

	del := &cobra.Command{
		Use:   "rm NOTE_ID",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.mutate(cmd.Context(), func(ctx context.Context, clientID string) ([]byte, error) {
				return cl.call(ctx, http.MethodDelete, "/notes/"+args[0]+"?clientId="+clientID, nil)
			}, cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(put, del)
	return cmd
}

// mutate runs fn under a short-lived websocket session.
func (c *client) mutate(ctx context.Context, fn func(context.Context, string) ([]byte, error), w io.Writer) error {
	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	out, err := fn(ctx, s.clientID)
	if err != nil {
		return err
	}
	printJSON(w, out)
	return nil
}

func blobsCmd(cl *client) *cobra.Command {
	cmd := &cobra.Command{Use: "blobs", Short: "Upload and fetch PDF files"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List file ids of the project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := cl.call(cmd.Context(), http.MethodGet, "/blobs", nil)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), out)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "put FILE_ID PATH",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			resp, err := cl.do(cmd.Context(), http.MethodPut, cl.api("/blobs/"+args[0]), f, "application/pdf")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusCreated {
				return fmt.Errorf("upload failed: status=%d body=%s", resp.StatusCode, out)
			}
			printJSON(cmd.OutOrStdout(), out)
			return nil
		},
	})

	var outPath string
	get := &cobra.Command{
		Use:   "get FILE_ID",
		Short: "Download a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := cl.do(cmd.Context(), http.MethodGet, cl.api("/blobs/"+args[0]), nil, "")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				out, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("download failed: status=%d body=%s", resp.StatusCode, out)
			}
			w := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			n, err := io.Copy(w, resp.Body)
			if err != nil {
				return err
			}
			if outPath != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d bytes (%s tier)\n", outPath, n, resp.Header.Get("X-Blob-Tier"))
			}
			return nil
		},
	}
	get.Flags().StringVarP(&outPath, "out", "o", "", "write to file instead of stdout")
	cmd.AddCommand(get)
	return cmd
}

func watchCmd(cl *client) *cobra.Command {
	var claim bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect and print every frame pushed to this client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := cl.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "connected as %s\n", s.clientID)
			if claim {
				if _, err := cl.call(ctx, http.MethodPost, "/register-user", map[string]string{"clientId": s.clientID}); err != nil {
					return err
				}
			}
			for {
				f, err := readFrame(ctx, s.conn)
				if err != nil {
					return err
				}
				if f.Type == "" {
					fmt.Fprintf(w, "relay: %s\n", f.Data)
					continue
				}
				fmt.Fprintf(w, "%s:\n", f.Type)
				printJSON(w, f.Data)
			}
		},
	}
	cmd.Flags().BoolVar(&claim, "register", false, "claim the identity via register-user")
	return cmd
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/lectern/internal/config"
)

type documentView struct {
	ID              string `json:"id"`
	CourseID        string `json:"course_id"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	ProcessingError string `json:"processing_error"`
	Generation      int    `json:"generation"`
}

type uploadView struct {
	Document documentView `json:"document"`
	JobID    string       `json:"job_id"`
}

type sourceView struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Similarity int    `json:"similarity"`
}

type answerView struct {
	Answer     string       `json:"answer"`
	Sources    []sourceView `json:"sources"`
	Confidence int          `json:"confidence"`
	Mode       string       `json:"mode"`
	Model      string       `json:"model"`
}

// clientFor resolves the acting user and builds an API client.
func clientFor(cmd *cobra.Command) (*apiClient, error) {
	user, err := userID(cmd)
	if err != nil {
		return nil, err
	}
	return newAPIClient(user)
}

// materialBody builds an upload body from --text or --file.
func materialBody(text, file, title string) (map[string]any, error) {
	body := map[string]any{}
	if title != "" {
		body["title"] = title
	}
	switch {
	case text != "" && file != "":
		return nil, fmt.Errorf("--text and --file are mutually exclusive")
	case text != "":
		body["content"] = text
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		body["filename"] = filepath.Base(file)
		body["data"] = base64.StdEncoding.EncodeToString(data)
	default:
		return nil, fmt.Errorf("one of --text or --file is required")
	}
	return body, nil
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about a course's material",
	Long: `Ask a question about a course's material.

Examples:
  lectern ask --course bio101 "What does the mitochondria do?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		course, _ := cmd.Flags().GetString("course")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := clientFor(cmd)
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/courses/"+url.PathEscape(course)+"/questions", map[string]string{
			"question": strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var ans answerView
		if err := decodeJSON(resp, &ans); err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ans)
		}

		printAnswer(ans)
		return nil
	},
}

func init() {
	askCmd.Flags().String("course", "", "course ID")
	askCmd.Flags().Bool("json", false, "print the raw JSON response")
	askCmd.MarkFlagRequired("course")
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload course material",
	Long: `Upload course material for processing.

Examples:
  lectern upload --course bio101 --file ./lecture1.pdf
  lectern upload --course bio101 --title "Cells" --text "Cells are the basic unit of life."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		course, _ := cmd.Flags().GetString("course")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		body, err := materialBody(text, file, title)
		if err != nil {
			return err
		}

		client, err := clientFor(cmd)
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/courses/"+url.PathEscape(course)+"/documents", body)
		if err != nil {
			return err
		}

		var res uploadView
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Queued %q for processing", res.Document.Title)
		printDocument(res.Document)
		printField("Job", "%s", res.JobID)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("course", "", "course ID")
	uploadCmd.Flags().String("text", "", "material text")
	uploadCmd.Flags().String("file", "", "material file (.txt, .md, .html, .csv, .pdf, .docx)")
	uploadCmd.Flags().String("title", "", "document title")
	uploadCmd.MarkFlagRequired("course")
}

// --- doc ---

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Inspect and manage uploaded documents",
}

var docStatusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show a document's processing status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFor(cmd)
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var st struct {
			Document       documentView `json:"document"`
			Chunks         int          `json:"chunks"`
			EmbeddedChunks int          `json:"embedded_chunks"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printDocument(st.Document)
		printField("Chunks", "%d (%d embedded)", st.Chunks, st.EmbeddedChunks)
		return nil
	},
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFor(cmd)
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

var docReplaceCmd = &cobra.Command{
	Use:   "replace <document-id>",
	Short: "Replace a document's content and reprocess it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		body, err := materialBody(text, file, title)
		if err != nil {
			return err
		}

		client, err := clientFor(cmd)
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/documents/"+url.PathEscape(args[0])+"/content", body)
		if err != nil {
			return err
		}

		var res uploadView
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Replaced content, generation %d queued", res.Document.Generation)
		printDocument(res.Document)
		return nil
	},
}

func init() {
	docReplaceCmd.Flags().String("text", "", "new material text")
	docReplaceCmd.Flags().String("file", "", "new material file")
	docReplaceCmd.Flags().String("title", "", "new title (default: keep current)")
	docCmd.AddCommand(docStatusCmd)
	docCmd.AddCommand(docDeleteCmd)
	docCmd.AddCommand(docReplaceCmd)
}

// --- course ---

var courseCmd = &cobra.Command{
	Use:   "course",
	Short: "Create courses and manage enrollment",
}

var courseCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a course owned by the acting user",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFor(cmd)
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/courses", map[string]string{"title": strings.Join(args, " ")})
		if err != nil {
			return err
		}

		var c struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}
		printSuccess("Created course %q", c.Title)
		printField("Course", "%s", colorize(colorCyan, c.ID))
		return nil
	},
}

var courseEnrollCmd = &cobra.Command{
	Use:   "enroll <course-id> <user-id>",
	Short: "Enroll a user in a course",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")

		client, err := clientFor(cmd)
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/courses/"+url.PathEscape(args[0])+"/enrollments", map[string]string{
			"user_id": args[1],
			"role":    role,
		})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Enrolled %s in %s as %s", args[1], args[0], role)
		return nil
	},
}

func init() {
	courseEnrollCmd.Flags().String("role", "student", "role: student or instructor")
	courseCmd.AddCommand(courseCreateCmd)
	courseCmd.AddCommand(courseEnrollCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store an API key in the local secrets file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}

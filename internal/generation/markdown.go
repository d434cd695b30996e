package generation

import (
	"fmt"
	"strings"
)

// RenderMarkdown formats a completed job as a downloadable markdown document.
// Jobs that have not completed cannot be rendered.
func RenderMarkdown(job Job) (string, error) {
	if job.Status != StatusCompleted {
		return "", ErrNotCompleted
	}

	var b strings.Builder
	b.WriteString("# Generated Content\n\n")
	fmt.Fprintf(&b, "- Generation: %s\n", job.ID)
	if job.TaskID != "" {
		fmt.Fprintf(&b, "- Task: %s\n", job.TaskID)
	}
	fmt.Fprintf(&b, "- Created: %s\n", job.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "- Duration: %ds\n", job.DurationSeconds)
	b.WriteString("\n---\n\n")
	b.WriteString(job.OutputContent)
	if !strings.HasSuffix(job.OutputContent, "\n") {
		b.WriteString("\n")
	}
	return b.String(), nil
}

// DownloadFileName derives the attachment file name for a job.
func DownloadFileName(job Job) string {
	return fmt.Sprintf("generation-%s.md", job.ID)
}

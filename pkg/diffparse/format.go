package diffparse

import "strings"

// SensitiveAnnotation marks auth-sensitive files in the analysis payload.
// The detector prompt references this marker, so it is part of the
// contract with the external detector.
const SensitiveAnnotation = "[auth-sensitive]"

// ExtractChangesForAnalysis serializes the change records into the
// deterministic per-file block format handed to the external detector:
//
//	File: app/controllers/sessions_controller.rb [auth-sensitive]
//	Added lines:
//	+ session[:access_token] = token
//	Removed lines:
//	- session[:token] = token
//
// Empty sub-sections are omitted. Files are separated by a blank line and
// keep their input order.
func ExtractChangesForAnalysis(changes []FileChange) string {
	blocks := make([]string, 0, len(changes))
	for _, c := range changes {
		var b strings.Builder
		b.WriteString("File: ")
		b.WriteString(c.Filename)
		if c.AuthSensitive {
			b.WriteString(" ")
			b.WriteString(SensitiveAnnotation)
		}
		if len(c.AddedLines) > 0 {
			b.WriteString("\nAdded lines:")
			for _, line := range c.AddedLines {
				b.WriteString("\n+ ")
				b.WriteString(line)
			}
		}
		if len(c.RemovedLines) > 0 {
			b.WriteString("\nRemoved lines:")
			for _, line := range c.RemovedLines {
				b.WriteString("\n- ")
				b.WriteString(line)
			}
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// SensitiveFilenames returns the paths of auth-sensitive records, in order.
func SensitiveFilenames(changes []FileChange) []string {
	var names []string
	for _, c := range changes {
		if c.AuthSensitive {
			names = append(names, c.Filename)
		}
	}
	return names
}

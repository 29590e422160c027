package proxy

import (
	"strings"

	"github.com/cnrmurphy/sentinel/internal/infrastructure/parser"
)

// sessionMarker is the upstream client's user_id convention: the session
// token is the suffix after the last occurrence of this marker. The rule
// lives here, isolated, so a convention change touches one place.
const sessionMarker = "_session_"

// workingDirMarker is the literal the client embeds in prompt text ahead
// of the agent's working directory.
const workingDirMarker = "Working directory:"

// extractSessionID pulls the client session token out of the request
// metadata. An empty suffix counts as absent.
func extractSessionID(req *parser.Request) *string {
	if req == nil || req.Metadata == nil || req.Metadata.UserID == nil {
		return nil
	}
	idx := strings.LastIndex(*req.Metadata.UserID, sessionMarker)
	if idx < 0 {
		return nil
	}
	session := (*req.Metadata.UserID)[idx+len(sessionMarker):]
	if session == "" {
		return nil
	}
	return &session
}

// extractWorkingDirectory scans every text segment of the request —
// system prompt first, then messages — for the working-directory marker.
// First match wins.
func extractWorkingDirectory(req *parser.Request) *string {
	if req == nil {
		return nil
	}
	for _, seg := range req.TextSegments() {
		if dir := scanWorkingDirectory(seg); dir != nil {
			return dir
		}
	}
	return nil
}

// scanWorkingDirectory finds the marker in one text segment. The value is
// the rest of that line, trimmed; blank values count as absent.
func scanWorkingDirectory(text string) *string {
	idx := strings.Index(text, workingDirMarker)
	if idx < 0 {
		return nil
	}
	rest := text[idx+len(workingDirMarker):]
	if end := strings.IndexByte(rest, '\n'); end >= 0 {
		rest = rest[:end]
	}
	dir := strings.TrimSpace(rest)
	if dir == "" {
		return nil
	}
	return &dir
}

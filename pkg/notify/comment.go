package notify

import (
	"context"

	"github.com/authwatchio/authwatch/pkg/errors"
)

// Commenter posts a summary comment on the change under review.
// gitenv environments implement this for GitHub PRs and GitLab MRs.
type Commenter interface {
	CreateSummaryComment(title, body string) error
}

// CommentTransport delivers the payload as a PR/MR comment.
type CommentTransport struct {
	channel   string
	commenter Commenter
}

// NewCommentTransport creates a comment transport for the given channel
// name (conventionally "pr_comment").
func NewCommentTransport(channel string, commenter Commenter) *CommentTransport {
	return &CommentTransport{channel: channel, commenter: commenter}
}

// Name returns the channel name.
func (t *CommentTransport) Name() string {
	return t.channel
}

// Send posts the rendered markdown as a comment.
func (t *CommentTransport) Send(ctx context.Context, payload *Payload) error {
	if t.commenter == nil {
		return &errors.TransportError{Channel: t.channel, Message: "no change-host context for comments"}
	}
	if err := t.commenter.CreateSummaryComment(payload.ShortText(), payload.Markdown()); err != nil {
		return &errors.TransportError{Channel: t.channel, Message: "create comment", Err: err}
	}
	return nil
}

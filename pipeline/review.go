// ABOUTME: Structured human inputs: the initial user input payload and the outfit review decision.
// ABOUTME: Parsing validates the fail-closed rules: reject requires feedback, edit requires instructions.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/trendloom/trendloom/graph"
)

// Review decision variants.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionEdit    = "edit"
)

// ReviewDecision is the human verdict on a set of outfit designs.
type ReviewDecision struct {
	DecisionType      string   `json:"decision_type"`
	RejectionFeedback string   `json:"rejection_feedback"`
	EditInstructions  string   `json:"edit_instructions"`
	SelectedOutfitIDs []string `json:"selected_outfit_ids"`
}

// ParseReviewDecision validates a resume value into a ReviewDecision.
// An unrecognized decision type or a missing mandatory field is an error;
// the caller must re-present the gate rather than advance.
func ParseReviewDecision(v map[string]any) (*ReviewDecision, error) {
	if v == nil {
		return nil, errors.New("review decision is empty")
	}
	d := &ReviewDecision{
		DecisionType:      stringValue(v["decision_type"]),
		RejectionFeedback: stringValue(v["rejection_feedback"]),
		EditInstructions:  stringValue(v["edit_instructions"]),
		SelectedOutfitIDs: stringSlice(v["selected_outfit_ids"]),
	}
	switch d.DecisionType {
	case DecisionApprove:
	case DecisionReject:
		if d.RejectionFeedback == "" {
			return nil, errors.New("rejection_feedback is mandatory when decision is 'reject'")
		}
	case DecisionEdit:
		if d.EditInstructions == "" {
			return nil, errors.New("edit_instructions is mandatory when decision is 'edit'")
		}
	default:
		return nil, fmt.Errorf("invalid decision_type: %q", d.DecisionType)
	}
	return d, nil
}

// Map renders the decision back into state form.
func (d *ReviewDecision) Map() map[string]any {
	ids := make([]any, len(d.SelectedOutfitIDs))
	for i, id := range d.SelectedOutfitIDs {
		ids[i] = id
	}
	return map[string]any{
		"decision_type":       d.DecisionType,
		"rejection_feedback":  d.RejectionFeedback,
		"edit_instructions":   d.EditInstructions,
		"selected_outfit_ids": ids,
	}
}

// decisionFromState reads the review decision currently in state, if any.
func decisionFromState(st graph.State) (decisionType string, decision map[string]any) {
	decision = st.GetMap(FieldReviewDecision)
	return stringValue(decision["decision_type"]), decision
}

// UserInput is the material a user supplies at the start of a run.
type UserInput struct {
	CustomURLs   []string `json:"custom_urls"`
	CustomImages []string `json:"custom_images"`
	CustomVideos []string `json:"custom_videos"`
	Query        string   `json:"query"`
}

// ParseUserInput structures a resume value into UserInput. Unknown keys are
// ignored; missing keys default to empty. This never fails: a malformed
// payload degrades to an empty input the way the pipeline always has.
func ParseUserInput(v map[string]any) UserInput {
	return UserInput{
		CustomURLs:   stringSlice(v["custom_urls"]),
		CustomImages: stringSlice(v["custom_images"]),
		CustomVideos: stringSlice(v["custom_videos"]),
		Query:        stringValue(v["query"]),
	}
}

// Map renders the input into state form.
func (u UserInput) Map() map[string]any {
	return map[string]any{
		"custom_urls":   anySlice(u.CustomURLs),
		"custom_images": anySlice(u.CustomImages),
		"custom_videos": anySlice(u.CustomVideos),
		"query":         u.Query,
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

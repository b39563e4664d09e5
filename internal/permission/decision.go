package permission

import "encoding/json"

// Decision is the outcome of evaluating one tool invocation. It is one of
// Allow, Deny or Ask.
type Decision interface {
	Behavior() Behavior
	isDecision()
}

// Allow lets the invocation proceed with UpdatedInput.
type Allow struct {
	UpdatedInput Input
	Reason       Reason
}

// Deny rejects the invocation.
type Deny struct {
	Message string
	Reason  Reason
}

// Ask requires the user's confirmation. Suggestions are rules the user could
// add to pre-authorize similar invocations.
type Ask struct {
	Message     string
	Suggestions []Rule
}

func (Allow) Behavior() Behavior { return BehaviorAllow }
func (Deny) Behavior() Behavior  { return BehaviorDeny }
func (Ask) Behavior() Behavior   { return BehaviorAsk }

func (Allow) isDecision() {}
func (Deny) isDecision()  {}
func (Ask) isDecision()   {}

// RuleSuggestions is always nil for a denial.
func (Deny) RuleSuggestions() []Rule { return nil }

// Reason explains why a decision was reached. It is one of RuleReason,
// OtherReason, ModeReason or PolicyReason.
type Reason interface {
	Type() string
	isReason()
}

// RuleReason: a configured rule matched.
type RuleReason struct {
	Rule Rule
}

// OtherReason: a tool-intrinsic classification, such as read-only.
type OtherReason struct {
	Reason string
}

// ModeReason: the permission mode decided.
type ModeReason struct {
	Mode Mode
}

// PolicyReason: a managed Rego policy denied the invocation.
type PolicyReason struct {
	Messages []string
}

func (RuleReason) Type() string   { return "rule" }
func (OtherReason) Type() string  { return "other" }
func (ModeReason) Type() string   { return "mode" }
func (PolicyReason) Type() string { return "policy" }

func (RuleReason) isReason()   {}
func (OtherReason) isReason()  {}
func (ModeReason) isReason()   {}
func (PolicyReason) isReason() {}

// ReasonRule returns the rule behind a decision, if a rule decided it.
func ReasonRule(d Decision) (Rule, bool) {
	var r Reason
	switch v := d.(type) {
	case Allow:
		r = v.Reason
	case Deny:
		r = v.Reason
	}
	if rr, ok := r.(RuleReason); ok {
		return rr.Rule, true
	}
	return Rule{}, false
}

// ReasonOf returns the reason attached to a decision. Ask decisions carry none.
func ReasonOf(d Decision) Reason {
	switch v := d.(type) {
	case Allow:
		return v.Reason
	case Deny:
		return v.Reason
	default:
		return nil
	}
}

func (r RuleReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Rule Rule   `json:"rule"`
	}{r.Type(), r.Rule})
}

func (r OtherReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}{r.Type(), r.Reason})
}

func (r ModeReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Mode Mode   `json:"mode"`
	}{r.Type(), r.Mode})
}

func (r PolicyReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string   `json:"type"`
		Messages []string `json:"messages"`
	}{r.Type(), r.Messages})
}

func (d Allow) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Behavior       Behavior `json:"behavior"`
		UpdatedInput   Input    `json:"updatedInput"`
		DecisionReason Reason   `json:"decisionReason"`
	}{d.Behavior(), d.UpdatedInput, d.Reason})
}

func (d Deny) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Behavior        Behavior `json:"behavior"`
		Message         string   `json:"message"`
		DecisionReason  Reason   `json:"decisionReason"`
		RuleSuggestions []Rule   `json:"ruleSuggestions"`
	}{d.Behavior(), d.Message, d.Reason, nil})
}

func (d Ask) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Behavior        Behavior `json:"behavior"`
		Message         string   `json:"message"`
		RuleSuggestions []Rule   `json:"ruleSuggestions"`
	}{d.Behavior(), d.Message, d.Suggestions})
}

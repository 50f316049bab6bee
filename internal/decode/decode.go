// Package decode classifies the ServiceNow agent's heterogeneous UI item
// payloads into renderable transcript messages. Decoding is a pure mapping:
// no I/O, no external state, and no input may make it panic. Malformed
// items degrade to reported errors or raw-text fallbacks instead.
package decode

import (
	"encoding/json"
	"fmt"
	"strings"

	"snchat/internal/transcript"
)

// UI item type tags as they appear on the wire.
const (
	TypeActionMsg  = "ActionMsg"
	TypeOutputCard = "OutputCard"
	TypeOutputText = "OutputText"
	TypePicker     = "Picker"
)

// ActionMsg subtypes.
const (
	ActionStartSpinner      = "StartSpinner"
	ActionEndSpinner        = "EndSpinner"
	ActionSystem            = "System"
	ActionStartConversation = "StartConversation"
)

// UnknownPolicy controls what Decode does with unrecognized item types.
type UnknownPolicy string

const (
	// UnknownRaw renders unrecognized items as their raw JSON text.
	UnknownRaw UnknownPolicy = "raw"
	// UnknownDrop silently ignores unrecognized items.
	UnknownDrop UnknownPolicy = "drop"
)

// Options configures decoding behavior.
type Options struct {
	Unknown UnknownPolicy
}

// DefaultOptions returns the default decode options.
func DefaultOptions() Options {
	return Options{Unknown: UnknownRaw}
}

// Item is one unit of the agent's response payload, keyed on uiType.
// Raw preserves the original bytes for fallback rendering.
type Item struct {
	UIType     string          `json:"uiType"`
	ActionType string          `json:"actionType,omitempty"`
	Message    string          `json:"message,omitempty"`
	Value      string          `json:"value,omitempty"`
	Data       string          `json:"data,omitempty"`
	Fields     []CardField     `json:"fields,omitempty"`
	Label      string          `json:"label,omitempty"`
	Options    []PickerOption  `json:"options,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// CardField is one label/value pair of an OutputCard.
type CardField struct {
	Label string `json:"fieldLabel"`
	Value string `json:"fieldValue"`
}

// PickerOption is one selectable entry of a Picker.
type PickerOption struct {
	Label string `json:"label"`
}

// Message is a decoded, not-yet-appended transcript entry.
type Message struct {
	Role transcript.Role
	Kind transcript.Kind
	Text string
}

// Result is the outcome of decoding one item or one batch.
// ConsumedContent reports whether the item carried payload the client
// should acknowledge; spinner signals are tracked separately because a
// spinner alone must be acknowledged but does not end polling.
type Result struct {
	Messages        []Message
	SpinnerStart    bool
	SpinnerEnd      bool
	ConsumedContent bool
	Err             error
}

// ParseItem decodes one raw JSON item into an Item, preserving the raw
// bytes. A non-object payload yields an Item with empty UIType so it flows
// through the unknown-variant arm instead of failing the batch.
func ParseItem(raw json.RawMessage) Item {
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		item = Item{}
	}
	item.Raw = append(json.RawMessage(nil), raw...)
	return item
}

// Decode maps one UI item to zero or more transcript messages.
// Rules are applied in priority order, first match wins.
func Decode(item Item, opts Options) Result {
	switch item.UIType {
	case TypeActionMsg:
		return decodeAction(item)
	case TypeOutputCard:
		return decodeCard(item)
	case TypeOutputText:
		return decodeText(item)
	case TypePicker:
		return decodePicker(item)
	default:
		return decodeUnknown(item, opts)
	}
}

// DecodeBatch decodes every item in order, accumulating messages, spinner
// flags and content consumption across the whole batch. Individual item
// failures are collected; they never abort the remaining items.
func DecodeBatch(raw []json.RawMessage, opts Options) Result {
	var batch Result
	for _, r := range raw {
		res := Decode(ParseItem(r), opts)
		batch.Messages = append(batch.Messages, res.Messages...)
		batch.SpinnerStart = batch.SpinnerStart || res.SpinnerStart
		batch.SpinnerEnd = batch.SpinnerEnd || res.SpinnerEnd
		batch.ConsumedContent = batch.ConsumedContent || res.ConsumedContent
		if res.Err != nil && batch.Err == nil {
			batch.Err = res.Err
		}
	}
	return batch
}

func decodeAction(item Item) Result {
	switch item.ActionType {
	case ActionStartSpinner:
		return Result{SpinnerStart: true}
	case ActionEndSpinner:
		return Result{SpinnerEnd: true}
	case ActionSystem:
		return Result{
			Messages:        []Message{{Role: transcript.RoleSystem, Kind: transcript.KindPlain, Text: item.Message}},
			ConsumedContent: true,
		}
	case ActionStartConversation:
		// Conversation-start marker, no user-visible payload.
		return Result{}
	default:
		// Other action subtypes carry no renderable content.
		return Result{}
	}
}

// cardData is the envelope inside an OutputCard's data string.
type cardData struct {
	Fields []CardField `json:"fields"`
}

func decodeCard(item Item) Result {
	fields := item.Fields
	if len(fields) == 0 && item.Data != "" {
		var data cardData
		if err := json.Unmarshal([]byte(item.Data), &data); err != nil {
			// Corrupt card still counts as consumed so polling does not
			// spin forever on it; the failure is reported, not raised.
			return Result{
				ConsumedContent: true,
				Err:             fmt.Errorf("malformed card data: %w", err),
			}
		}
		fields = data.Fields
	}

	var msgs []Message
	for _, f := range fields {
		switch {
		case f.Label == "Top Result:":
			msgs = append(msgs, Message{
				Role: transcript.RoleAssistant,
				Kind: transcript.KindPlain,
				Text: f.Value,
			})
		case strings.Contains(f.Label, "KB"):
			msgs = append(msgs, Message{
				Role: transcript.RoleAssistant,
				Kind: transcript.KindLink,
				Text: "Learn more: " + f.Value,
			})
		}
	}
	return Result{Messages: msgs, ConsumedContent: true}
}

func decodeText(item Item) Result {
	value := item.Value

	// The agent sometimes smuggles an ActionMsg inside an OutputText value.
	if strings.HasPrefix(strings.TrimSpace(value), "{") {
		var embedded Item
		if err := json.Unmarshal([]byte(value), &embedded); err == nil && embedded.UIType == TypeActionMsg {
			if embedded.ActionType == ActionSystem {
				return Result{
					Messages:        []Message{{Role: transcript.RoleSystem, Kind: transcript.KindPlain, Text: embedded.Message}},
					ConsumedContent: true,
				}
			}
			// Other embedded action subtypes are suppressed.
			return Result{}
		}
	}

	return Result{
		Messages:        []Message{{Role: transcript.RoleAssistant, Kind: transcript.KindPlain, Text: value}},
		ConsumedContent: true,
	}
}

func decodePicker(item Item) Result {
	var b strings.Builder
	b.WriteString(item.Label)
	for i, opt := range item.Options {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, opt.Label))
	}
	return Result{
		Messages:        []Message{{Role: transcript.RoleAssistant, Kind: transcript.KindPicker, Text: b.String()}},
		ConsumedContent: true,
	}
}

func decodeUnknown(item Item, opts Options) Result {
	if opts.Unknown == UnknownDrop {
		return Result{Err: fmt.Errorf("unrecognized item type %q dropped", item.UIType)}
	}
	return Result{
		Messages:        []Message{{Role: transcript.RoleAssistant, Kind: transcript.KindPlain, Text: string(item.Raw)}},
		ConsumedContent: true,
	}
}

package session

import (
	"encoding/json"
	"fmt"

	"github.com/adacab/voicegate/internal/upstream"
)

// Tool names exposed to the model.
const (
	toolSyncBookingData  = "sync_booking_data"
	toolBookTaxi         = "book_taxi"
	toolCancelBooking    = "cancel_booking"
	toolEndCall          = "end_call"
	toolSaveCustomerName = "save_customer_name"
	toolSaveLocation     = "save_location"
	toolFindNearby       = "find_nearby_places"
	toolVerifyBooking    = "verify_booking"
)

// toolSchema is the function schema sent in session.update.
func toolSchema() []upstream.Tool {
	stringProp := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	object := func(props map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}

	return []upstream.Tool{
		{
			Name:        toolSyncBookingData,
			Description: "Save one booking detail the caller just provided or corrected.",
			Parameters: object(map[string]any{
				"field": map[string]any{
					"type":        "string",
					"enum":        []string{"pickup", "destination", "passengers", "time"},
					"description": "Which booking detail this is.",
				},
				"value":             stringProp("The detail exactly as the caller stated it."),
				"is_field_complete": map[string]any{"type": "boolean", "description": "Whether the caller has finished giving this detail."},
			}, "field", "value"),
		},
		{
			Name:        toolBookTaxi,
			Description: "Request a fare quote for the collected booking, or confirm the booking after the caller accepts the quoted fare.",
			Parameters: object(map[string]any{
				"action": map[string]any{
					"type":        "string",
					"enum":        []string{"request_quote", "confirmed"},
					"description": "request_quote on the caller's first confirmation of the details; confirmed after they accept the fare.",
				},
				"pickup":      stringProp("Pickup address."),
				"destination": stringProp("Destination address."),
				"passengers":  stringProp("Passenger count."),
				"pickup_time": stringProp("Pickup time, or ASAP."),
			}, "action"),
		},
		{
			Name:        toolCancelBooking,
			Description: "Cancel the booking. Only when the caller clearly asks to cancel.",
			Parameters:  object(map[string]any{"reason": stringProp("The caller's words asking to cancel.")}),
		},
		{
			Name:        toolEndCall,
			Description: "End the call after saying goodbye.",
			Parameters:  object(map[string]any{"reason": stringProp("Why the call is ending.")}),
		},
		{
			Name:        toolSaveCustomerName,
			Description: "Save the caller's name if they mention it.",
			Parameters:  object(map[string]any{"name": stringProp("The caller's name.")}, "name"),
		},
		{
			Name:        toolSaveLocation,
			Description: "Save a named location the caller refers to, such as home or work.",
			Parameters: object(map[string]any{
				"label":   stringProp("What the caller calls this place."),
				"address": stringProp("The address."),
			}, "label", "address"),
		},
		{
			Name:        toolFindNearby,
			Description: "Look up nearby places matching the caller's description.",
			Parameters:  object(map[string]any{"query": stringProp("What to search for.")}, "query"),
		},
		{
			Name:        toolVerifyBooking,
			Description: "Read back the current booking details for verification.",
			Parameters:  object(map[string]any{}),
		},
	}
}

// syncBookingArgs are the arguments of sync_booking_data.
type syncBookingArgs struct {
	Field           string `json:"field"`
	Value           string `json:"value"`
	IsFieldComplete bool   `json:"is_field_complete"`
}

// bookTaxiArgs are the arguments of book_taxi.
type bookTaxiArgs struct {
	Action      string `json:"action"`
	Pickup      string `json:"pickup"`
	Destination string `json:"destination"`
	Passengers  string `json:"passengers"`
	PickupTime  string `json:"pickup_time"`
}

// cancelArgs are the arguments of cancel_booking and end_call.
type cancelArgs struct {
	Reason string `json:"reason"`
}

// nameArgs are the arguments of save_customer_name.
type nameArgs struct {
	Name string `json:"name"`
}

// locationArgs are the arguments of save_location.
type locationArgs struct {
	Label   string `json:"label"`
	Address string `json:"address"`
}

// nearbyArgs are the arguments of find_nearby_places.
type nearbyArgs struct {
	Query string `json:"query"`
}

// toolResult is the structured payload serialized into every
// function_call_output. Success is always present; the other fields appear
// as the handler fills them.
type toolResult struct {
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
	FieldSaved    string            `json:"field_saved,omitempty"`
	CurrentState  map[string]string `json:"current_state,omitempty"`
	NextStep      string            `json:"next_step,omitempty"`
	Instruction   string            `json:"instruction,omitempty"`
	MissingFields []string          `json:"missing_fields,omitempty"`
}

// encode serializes the result for function_call_output.
func (r toolResult) encode() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}

func failure(reason string) toolResult {
	return toolResult{Success: false, Error: reason}
}

func decodeArgs(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("session: decode tool arguments: %w", err)
	}
	return nil
}

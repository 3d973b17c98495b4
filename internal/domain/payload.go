package domain

import "strings"

// ServicePayload carries the service-specific fields of an order. Exactly one
// variant is set and it must match the order's ServiceType.
type ServicePayload struct {
	Robux      *RobuxPayload      `json:"robux,omitempty" bson:"robux,omitempty"`
	Gamepass   *GamepassPayload   `json:"gamepass,omitempty" bson:"gamepass,omitempty"`
	Joki       *JokiPayload       `json:"joki,omitempty" bson:"joki,omitempty"`
	Membership *MembershipPayload `json:"membership,omitempty" bson:"membership,omitempty"`
}

type RobuxPayload struct {
	Username string `json:"username" bson:"username"`
	// Amount is the robux amount the customer receives.
	Amount int64 `json:"amount" bson:"amount"`
	// Gamepass fields are required for scheduled delivery: the stock account
	// buys this gamepass, so its price is the capacity the account needs.
	GamepassID    string `json:"gamepass_id,omitempty" bson:"gamepass_id,omitempty"`
	GamepassPrice int64  `json:"gamepass_price,omitempty" bson:"gamepass_price,omitempty"`
	PlaceID       string `json:"place_id,omitempty" bson:"place_id,omitempty"`
}

type GamepassPayload struct {
	Username string `json:"username" bson:"username"`
	GameName string `json:"game_name" bson:"game_name"`
	ItemName string `json:"item_name" bson:"item_name"`
}

type JokiPayload struct {
	Username    string `json:"username" bson:"username"`
	GameName    string `json:"game_name" bson:"game_name"`
	Target      string `json:"target" bson:"target"`
	Notes       string `json:"notes,omitempty" bson:"notes,omitempty"`
	ContactInfo string `json:"contact_info,omitempty" bson:"contact_info,omitempty"`
}

type MembershipPayload struct {
	Username     string `json:"username" bson:"username"`
	TierCode     string `json:"tier_code" bson:"tier_code"`
	DurationDays int    `json:"duration_days" bson:"duration_days"`
}

// Username returns the account username of whichever variant is set.
func (p ServicePayload) Username() string {
	switch {
	case p.Robux != nil:
		return p.Robux.Username
	case p.Gamepass != nil:
		return p.Gamepass.Username
	case p.Joki != nil:
		return p.Joki.Username
	case p.Membership != nil:
		return p.Membership.Username
	}
	return ""
}

func (p ServicePayload) variants() int {
	n := 0
	if p.Robux != nil {
		n++
	}
	if p.Gamepass != nil {
		n++
	}
	if p.Joki != nil {
		n++
	}
	if p.Membership != nil {
		n++
	}
	return n
}

// Validate checks the payload against the order's service type and category
// and returns one FieldError per problem found.
func (p ServicePayload) Validate(item int, st ServiceType, cat ServiceCategory) []FieldError {
	var errs []FieldError
	add := func(field, msg string) {
		errs = append(errs, FieldError{Item: item, Field: field, Message: msg})
	}

	if strings.TrimSpace(p.Username()) == "" {
		add("payload.username", "username is required")
	}
	if p.variants() > 1 {
		add("payload", "exactly one service payload may be set")
	}

	switch st {
	case ServiceTypeRobux:
		if p.Robux == nil {
			add("payload.robux", "robux payload is required for service type robux")
			break
		}
		if p.Robux.Amount <= 0 {
			add("payload.robux.amount", "amount must be positive")
		}
		if cat.IsScheduledDelivery() {
			if p.Robux.GamepassID == "" {
				add("payload.robux.gamepass_id", "gamepass_id is required for scheduled delivery")
			}
			if p.Robux.GamepassPrice <= 0 {
				add("payload.robux.gamepass_price", "gamepass_price must be positive for scheduled delivery")
			}
		}
	case ServiceTypeGamepass:
		if p.Gamepass == nil {
			add("payload.gamepass", "gamepass payload is required for service type gamepass")
			break
		}
		if p.Gamepass.GameName == "" || p.Gamepass.ItemName == "" {
			add("payload.gamepass", "game_name and item_name are required")
		}
	case ServiceTypeJoki:
		if p.Joki == nil {
			add("payload.joki", "joki payload is required for service type joki")
			break
		}
		if p.Joki.GameName == "" || p.Joki.Target == "" {
			add("payload.joki", "game_name and target are required")
		}
	case ServiceTypeMembership:
		if p.Membership == nil {
			add("payload.membership", "membership payload is required for service type membership")
			break
		}
		if p.Membership.TierCode == "" {
			add("payload.membership.tier_code", "tier_code is required")
		}
		if p.Membership.DurationDays <= 0 {
			add("payload.membership.duration_days", "duration_days must be positive")
		}
	default:
		add("service_type", "unknown service type "+string(st))
	}

	if cat.IsScheduledDelivery() && st != ServiceTypeRobux {
		add("service_category", "scheduled delivery is only available for robux")
	}

	return errs
}

package oidcrp

import (
	"reflect"

	strutil "github.com/authrelay/oidcrp/internal/strutils"
)

// Claims is a set of OIDC claims, as decoded from an id_token payload or a
// userinfo response.
type Claims map[string]interface{}

// Subject returns the "sub" claim, or "" if absent or not a string.
func (c Claims) Subject() string {
	return c.stringClaim("sub")
}

// SessionID returns the "sid" claim, or "" if absent or not a string.
func (c Claims) SessionID() string {
	return c.stringClaim("sid")
}

func (c Claims) stringClaim(name string) string {
	if v, ok := c[name].(string); ok {
		return v
	}
	return ""
}

// DefaultProtocolClaims are the protocol-reserved claim names removed from
// profiles when filtering is enabled and no override list is configured.
var DefaultProtocolClaims = []string{
	"nbf",
	"jti",
	"auth_time",
	"nonce",
	"acr",
	"amr",
	"azp",
	"at_hash",
}

// neverFilteredClaims are kept in profiles regardless of configuration.
var neverFilteredClaims = []string{"sub", "iss", "aud", "exp", "iat"}

// ClaimsService filters protocol-reserved claims from profiles and merges
// claim sets.  Both operations are pure: inputs are never mutated and the
// same inputs always produce the same output shape.
type ClaimsService struct {
	settings *Settings
}

// NewClaimsService creates a ClaimsService for the given settings.
func NewClaimsService(settings *Settings) *ClaimsService {
	return &ClaimsService{settings: settings}
}

// FilterProtocolClaims returns a copy of profile with protocol-reserved
// claims removed, honoring Settings.DisableProtocolClaimsFilter and
// Settings.ProtocolClaimsFilter.  sub, iss, aud, exp and iat are never
// removed.
func (s *ClaimsService) FilterProtocolClaims(profile Claims) Claims {
	result := make(Claims, len(profile))
	for k, v := range profile {
		result[k] = v
	}
	if s.settings.DisableProtocolClaimsFilter {
		return result
	}
	filter := s.settings.ProtocolClaimsFilter
	if filter == nil {
		filter = DefaultProtocolClaims
	}
	for _, name := range filter {
		if strutil.StrListContains(neverFilteredClaims, name) {
			continue
		}
		delete(result, name)
	}
	return result
}

// MergeClaims merges b into a copy of a, claim by claim.  For every value
// under a claim of b (arrays are iterated element-wise): an absent claim is
// set; an existing array is appended to unless the value is already present;
// an equal scalar is a no-op; otherwise both values either deep-merge (when
// both are objects and Settings.MergeObjectClaims is set) or collapse into a
// two-element array.
func (s *ClaimsService) MergeClaims(a, b Claims) Claims {
	result := make(Claims, len(a))
	for k, v := range a {
		result[k] = deepCopyValue(v)
	}
	for k, values := range b {
		for _, value := range claimValues(values) {
			current, exists := result[k]
			if !exists {
				result[k] = deepCopyValue(value)
				continue
			}
			result[k] = s.mergeValue(current, value)
		}
	}
	return result
}

// mergeValue folds one incoming value into the current value of a claim.
func (s *ClaimsService) mergeValue(current, value interface{}) interface{} {
	if reflect.DeepEqual(current, value) {
		return current
	}

	if arr, ok := current.([]interface{}); ok {
		for _, existing := range arr {
			if reflect.DeepEqual(existing, value) {
				return arr
			}
		}
		return append(arr, deepCopyValue(value))
	}

	currentObj, currentIsObj := current.(map[string]interface{})
	valueObj, valueIsObj := value.(map[string]interface{})
	if s.settings.MergeObjectClaims && currentIsObj && valueIsObj {
		return map[string]interface{}(s.MergeClaims(Claims(currentObj), Claims(valueObj)))
	}

	return []interface{}{current, deepCopyValue(value)}
}

// claimValues views a claim value as its element-wise list: arrays are
// iterated, everything else is a single-element list.
func claimValues(v interface{}) []interface{} {
	if arr, ok := v.([]interface{}); ok {
		return arr
	}
	return []interface{}{v}
}

func deepCopyValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		cp := make(map[string]interface{}, len(typed))
		for k, inner := range typed {
			cp[k] = deepCopyValue(inner)
		}
		return cp
	case []interface{}:
		cp := make([]interface{}, len(typed))
		for i, inner := range typed {
			cp[i] = deepCopyValue(inner)
		}
		return cp
	default:
		return v
	}
}

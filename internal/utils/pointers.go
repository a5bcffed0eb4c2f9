package utils

func StringPtr(s string) *string {
	return &s
}

func BoolPtr(b bool) *bool {
	return &b
}

// OptionalString returns nil for the empty string, for nullable text columns.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func StringPtrValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package secrets

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/chatrelay/internal/config"
)

// HasRefs reports whether any field still holds an ssm: reference.
func HasRefs(fields map[string]*string) bool {
	for _, v := range fields {
		if v != nil && strings.HasPrefix(*v, config.SSMPrefix) {
			return true
		}
	}
	return false
}

// Resolve replaces every "ssm:<name>" value in fields with the parameter's
// value. Fields are visited in key order; the first failure aborts.
func Resolve(ctx context.Context, g Getter, fields map[string]*string) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := fields[key]
		if v == nil || !strings.HasPrefix(*v, config.SSMPrefix) {
			continue
		}
		name := strings.TrimPrefix(*v, config.SSMPrefix)
		val, err := g.GetParameter(ctx, name)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if val == "" {
			return fmt.Errorf("%s: parameter %q is empty", key, name)
		}
		*v = val
	}
	return nil
}

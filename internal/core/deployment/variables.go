package deployment

import "regexp"

// =============================================================================
// Variable Substitution Functions
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
// Groups:
//   - Group 1: Variable name (required)
//   - Group 2: Default value (optional, after :-)
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// SubstituteVariables replaces ${VAR} and ${VAR:-default} placeholders with values
// from the variables map.
//
// Behavior:
//   - ${VAR} - replaced with variables["VAR"] if exists, otherwise kept as-is
//   - ${VAR:-default} - replaced with variables["VAR"] if exists, otherwise "default"
//   - Unmatched text is left unchanged
//
// Examples:
//
//	SubstituteVariables("${DB_HOST}", map[string]string{"DB_HOST": "localhost"})
//	// Returns: "localhost"
//
//	SubstituteVariables("${PORT:-8000}", map[string]string{})
//	// Returns: "8000"
//
//	SubstituteVariables("${MISSING}", map[string]string{})
//	// Returns: "${MISSING}"
func SubstituteVariables(value string, variables map[string]string) string {
	if variables == nil {
		variables = make(map[string]string)
	}

	return varPlaceholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		submatch := varPlaceholderRegex.FindStringSubmatch(match)
		if len(submatch) >= 2 {
			varName := submatch[1]
			if val, ok := variables[varName]; ok {
				return val
			}
			// Return default if specified (even empty string)
			if len(submatch) >= 3 && submatch[2] != "" {
				return submatch[2]
			}
			// ${VAR:-} with an empty default substitutes to empty
			if len(match) > len(varName)+4 {
				return ""
			}
		}
		return match // Return original if no substitution
	})
}

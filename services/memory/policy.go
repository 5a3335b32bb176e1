// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"regexp"
	"strings"
)

// Complexity classifies a turn for summarization cost control.
type Complexity string

const (
	ComplexityShort     Complexity = "short"
	ComplexityMedium    Complexity = "medium"
	ComplexityLong      Complexity = "long"
	ComplexityCodeHeavy Complexity = "code_heavy"
)

// codeHeavyPattern detects code-like content: fenced blocks, structural
// punctuation, or declaration keywords.
var codeHeavyPattern = regexp.MustCompile("(?i)```|[{;}()=>]|function\\s+\\w+|class\\s+\\w+|interface\\s+\\w+|type\\s+\\w+")

// ClassifyTurn buckets a turn by word count and code-token detection.
func ClassifyTurn(userMessage, assistantMessage string) Complexity {
	if codeHeavyPattern.MatchString(userMessage) || codeHeavyPattern.MatchString(assistantMessage) {
		return ComplexityCodeHeavy
	}

	userWords := len(strings.Fields(userMessage))
	assistantWords := len(strings.Fields(assistantMessage))

	switch {
	case userWords < 40 && assistantWords < 40:
		return ComplexityShort
	case userWords > 200 || assistantWords > 200:
		return ComplexityLong
	default:
		return ComplexityMedium
	}
}

// ShouldExtractDiff reports whether a turn of this complexity warrants fact
// extraction. Short turns skip the diff entirely; the cost and noise of
// extracting facts from "thanks, that worked" is not worth it.
func ShouldExtractDiff(complexity Complexity) bool {
	return complexity != ComplexityShort
}

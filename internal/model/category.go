package model

import (
	"strings"
	"unicode"
)

// CategoryTag is the coarse grouping of a free-text category.
type CategoryTag string

// Category tags.
const (
	TagFruit     CategoryTag = "fruit"
	TagVegetable CategoryTag = "vegetable"
	TagMeat      CategoryTag = "meat"
	TagDairy     CategoryTag = "dairy"
	TagOther     CategoryTag = "other"
)

// categoryKeywords maps a normalized keyword to its tag.
var categoryKeywords = map[string]CategoryTag{
	"fruit":     TagFruit,
	"apple":     TagFruit,
	"banana":    TagFruit,
	"orange":    TagFruit,
	"berry":     TagFruit,
	"vegetable": TagVegetable,
	"veg":       TagVegetable,
	"veggie":    TagVegetable,
	"meat":      TagMeat,
	"chicken":   TagMeat,
	"beef":      TagMeat,
	"pork":      TagMeat,
	"dairy":     TagDairy,
	"milk":      TagDairy,
	"cheese":    TagDairy,
	"yogurt":    TagDairy,
}

// ClassifyCategory returns the tag of the first word in category that is a
// known keyword, or TagOther.
func ClassifyCategory(category string) CategoryTag {
	words := strings.FieldsFunc(strings.ToLower(category), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if tag, ok := categoryKeywords[w]; ok {
			return tag
		}
		// Simple plurals such as "apples".
		if tag, ok := categoryKeywords[strings.TrimSuffix(w, "s")]; ok {
			return tag
		}
	}
	return TagOther
}

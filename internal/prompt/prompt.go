// Package prompt builds the natural-language instructions sent to the
// planning, generation and edit backends.
package prompt

import (
	"fmt"
	"strings"

	"github.com/manash/jewelshoot/pkg/models"
)

// Requirements is appended to every image request.
const Requirements = "high detail, macro lens, shallow depth of field, commercial lighting, photorealistic"

const preserveProduct = "Keep the jewelry product exactly as it is; only place it in the new setting."

// Plan asks the planner for count studio concepts, one per style.
func Plan(count int) string {
	var b strings.Builder
	b.WriteString("Analyze this piece of jewelry. Act as a professional product photographer and art director.\n\n")
	fmt.Fprintf(&b, "Plan %d professional studio photography concepts:\n", count)
	for i, s := range models.Styles() {
		if i >= count {
			break
		}
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, s, styleBrief(s))
	}
	b.WriteString("\nFor each concept return:\n")
	b.WriteString("- style: the concept name (MINIMALIST, LUXURY or NATURE)\n")
	b.WriteString("- description: the setting and the atmosphere\n")
	b.WriteString("- elements: props and lighting style, as a list\n\n")
	b.WriteString("Return JSON.")
	return b.String()
}

func styleBrief(s models.Style) string {
	switch s {
	case models.StyleMinimalist:
		return "plain, elegant, modern setting"
	case models.StyleLuxury:
		return "rich, opulent, dramatic setting"
	case models.StyleNature:
		return "natural, organic, calm setting"
	}
	return ""
}

// Generation describes one concept shot at the given sizing.
func Generation(c models.Concept, sizing models.Sizing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Professional jewelry product photo, %s style.\n", c.Style.Label())
	if c.Description != "" {
		fmt.Fprintf(&b, "Scene: %s\n", c.Description)
	}
	if len(c.Elements) > 0 {
		fmt.Fprintf(&b, "Elements: %s\n", strings.Join(c.Elements, ", "))
	}
	writeSizing(&b, sizing)
	b.WriteString(preserveProduct)
	return b.String()
}

// Edit wraps a user instruction so the product itself is left untouched.
func Edit(instruction string, sizing models.Sizing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Edit this jewelry product photo: %s\n", strings.TrimSpace(instruction))
	b.WriteString("Do not change the product: keep the same number of pieces, the same form, the same size and the same colors. ")
	b.WriteString("Apply the instruction only to the atmosphere, lighting, background and props.\n")
	writeSizing(&b, sizing)
	b.WriteString(preserveProduct)
	return b.String()
}

// Enhance asks a text model to rewrite a raw edit instruction as a single
// commercial photography sentence.
func Enhance(instruction string) string {
	return fmt.Sprintf(`A user gave the following instruction for editing a jewelry product photo:
"""%s"""

Rewrite this request in one sentence, as a professional product photographer would.
- Improve the jewelry, lighting, background and atmosphere details.
- Do not drift from the user's intent and do not add repetition.
- Keep the wording clear and commercial.
- Do not add technical requirements at the end; they are appended separately.

Return only the rewritten sentence.`, strings.TrimSpace(instruction))
}

func writeSizing(b *strings.Builder, sizing models.Sizing) {
	fmt.Fprintf(b, "Target size: %s.\n", sizing.Resolution.PromptText)
	fmt.Fprintf(b, "Framing: %s.\n", sizing.AspectRatio.PromptText)
	fmt.Fprintf(b, "Requirements: %s.\n", Requirements)
}

package director

import (
	"fmt"
	"strings"
)

type Mode string

const (
	ModeShot Mode = "shot"
	ModeGrid Mode = "grid"
)

// ShotCount is the number of panels in a storyboard grid.
const ShotCount = 9

// DefaultScene stands in for an empty scene context.
const DefaultScene = "A dynamic, high-energy cinematic moment with professional production value"

type Angle struct {
	ID    string
	Title string
	Notes string
}

var angles = []Angle{
	{ID: "wide", Title: "Wide establishing shot", Notes: "character small in frame, full environment and light sources visible"},
	{ID: "ots", Title: "Over-the-shoulder", Notes: "foreground shoulder soft, subject or threat in sharp focus"},
	{ID: "eyes", Title: "Extreme close-up of the eyes", Notes: "catchlights, skin texture, a single emotion"},
	{ID: "low", Title: "Low angle", Notes: "camera near the ground looking up, character dominant against the sky or ceiling"},
	{ID: "high", Title: "High angle", Notes: "looking down on the character, vulnerability, environment pattern"},
	{ID: "profile", Title: "Medium profile", Notes: "waist up, side light carving the silhouette of the face"},
	{ID: "dutch", Title: "Dutch angle", Notes: "tilted horizon, tension and unease"},
	{ID: "tracking", Title: "Tracking shot", Notes: "camera moving with the character, motion blur in the background"},
	{ID: "silhouette", Title: "Silhouette", Notes: "backlit against the brightest source, shape over detail"},
}

// Angles returns the nine-shot camera catalog in grid order.
func Angles() []Angle {
	return append([]Angle(nil), angles...)
}

// Instruction builds the text sent next to the reference image.
func Instruction(mode Mode, scene string) string {
	scene = strings.TrimSpace(scene)

	var b strings.Builder
	b.Grow(2048)

	b.WriteString("You are an expert film director. Look at the character in this image.\n")
	switch mode {
	case ModeGrid:
		fmt.Fprintf(&b, "I need %d separate prompts for an AI Image Generator, one per panel of a '3x3 Cinematic Storyboard Sheet'. Each prompt renders a single frame on its own.\n\n", ShotCount)
	default:
		b.WriteString("I need a prompt for an AI Image Generator to create a '3x3 Cinematic Storyboard Sheet' (9 panels total).\n\n")
	}

	b.WriteString("The prompt must:\n")
	b.WriteString("1. Describe a consistent scene (e.g., an intense action chase in a dusty market).\n")
	if mode == ModeGrid {
		b.WriteString("2. Keep the same scene, wardrobe and time of day across every panel.\n")
	} else {
		b.WriteString("2. Specify the layout: \"A 3x3 grid contact sheet\".\n")
	}
	fmt.Fprintf(&b, "3. Describe %d distinct camera angles, in this order:\n", len(angles))
	for i, a := range angles {
		fmt.Fprintf(&b, "   %d. %s: %s\n", i+1, a.Title, a.Notes)
	}
	b.WriteString("4. Mention specific details from the reference image (e.g., \"man with beard\", \"white shirt\") to reinforce consistency.\n")
	b.WriteString("5. Style keywords: \"Cinematic lighting, 4k, teal and orange, motion blur, highly detailed\".\n\n")

	if scene == "" {
		b.WriteString(DefaultScene + "\n\n")
	} else {
		fmt.Fprintf(&b, "The user wants this specific scene/context: %q\n\n", scene)
	}

	b.WriteString("REQUIREMENTS:\n")
	writeSection(&b, []string{
		"Describe the scene vividly (lighting, atmosphere, background).",
		"Maintain the character's key features from the image (hair, clothes, vibe).",
		"Use high-end keywords: \"8k, cinematic lighting, photorealistic, depth of field\".",
	})
	b.WriteString("\n")

	if mode == ModeGrid {
		fmt.Fprintf(&b, "Output ONLY a JSON array of exactly %d strings, one prompt per camera angle in the order above. No markdown, no keys, no commentary.\n", ShotCount)
	} else {
		b.WriteString("Output ONLY the final prompt text. No \"Here is the prompt\" text.\n")
	}
	return b.String()
}

func writeSection(b *strings.Builder, lines []string) {
	for i, line := range lines {
		fmt.Fprintf(b, "%d. %s\n", i+1, line)
	}
}

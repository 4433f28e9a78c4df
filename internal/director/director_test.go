package director

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lynchvision/internal/gemini"
	"lynchvision/internal/imaging"
)

type fakeModel struct {
	reply string
	err   error
	got   []gemini.TextRequest
}

func (f *fakeModel) GenerateText(_ context.Context, req gemini.TextRequest) (string, error) {
	f.got = append(f.got, req)
	return f.reply, f.err
}

var ref = imaging.Reference{Data: []byte("img"), MIMEType: "image/png"}

func nineShots() []string {
	out := make([]string, ShotCount)
	for i := range out {
		out[i] = fmt.Sprintf("panel %d", i+1)
	}
	return out
}

func TestInstructionSubstitutesDefaultScene(t *testing.T) {
	for _, scene := range []string{"", "   ", "\n\t"} {
		text := Instruction(ModeShot, scene)
		assert.Contains(t, text, DefaultScene)
		assert.NotContains(t, text, "specific scene/context")
	}

	text := Instruction(ModeShot, " rainy rooftop at night ")
	assert.Contains(t, text, `"rainy rooftop at night"`)
	assert.NotContains(t, text, DefaultScene)
}

func TestInstructionModes(t *testing.T) {
	shot := Instruction(ModeShot, "")
	assert.Contains(t, shot, "A 3x3 grid contact sheet")
	assert.Contains(t, shot, "Output ONLY the final prompt text")

	grid := Instruction(ModeGrid, "")
	assert.Contains(t, grid, "JSON array of exactly 9 strings")
	for _, a := range Angles() {
		assert.Contains(t, grid, a.Title)
	}
	assert.Len(t, Angles(), ShotCount)
}

func TestShotTrimsReply(t *testing.T) {
	m := &fakeModel{reply: "\n  A wide shot of a bearded man.  \n"}
	d := New(Options{Model: m, TextModelName: "gemini-2.5-flash"})

	prompt, err := d.Shot(context.Background(), ref, "")
	require.NoError(t, err)
	assert.Equal(t, "A wide shot of a bearded man.", prompt)

	require.Len(t, m.got, 1)
	assert.Equal(t, "gemini-2.5-flash", m.got[0].Model)
	assert.Equal(t, ref, m.got[0].Image)
	assert.Nil(t, m.got[0].JSONSchema)
	assert.Contains(t, m.got[0].Instruction, DefaultScene)
}

func TestShotEmptyAndFailure(t *testing.T) {
	_, err := New(Options{Model: &fakeModel{reply: "   "}}).Shot(context.Background(), ref, "x")
	assert.ErrorIs(t, err, ErrNoPrompt)

	_, err = New(Options{Model: &fakeModel{err: errors.New("quota exceeded")}}).Shot(context.Background(), ref, "x")
	require.ErrorIs(t, err, ErrNoPrompt)
	assert.Contains(t, err.Error(), "quota exceeded")

	_, err = New(Options{}).Shot(context.Background(), ref, "x")
	assert.ErrorIs(t, err, ErrNoPrompt)
}

func TestShotsSendsSchemaAndParses(t *testing.T) {
	body, _ := json.Marshal(nineShots())
	m := &fakeModel{reply: "```json\n" + string(body) + "\n```"}

	shots, err := New(Options{Model: m}).Shots(context.Background(), ref, "desert chase")
	require.NoError(t, err)
	assert.Equal(t, nineShots(), shots)

	require.Len(t, m.got, 1)
	assert.Same(t, ShotListSchema(), m.got[0].JSONSchema)
}

func TestShotsRejectsWrongCount(t *testing.T) {
	m := &fakeModel{reply: `["one","two","three"]`}
	_, err := New(Options{Model: m}).Shots(context.Background(), ref, "")
	assert.ErrorIs(t, err, ErrNoPrompt)
}

func TestParseShotList(t *testing.T) {
	valid, _ := json.Marshal(nineShots())
	ten, _ := json.Marshal(append(nineShots(), "extra"))
	quoted := make([]string, ShotCount)
	for i, s := range nineShots() {
		quoted[i] = `"` + s + `"`
	}
	trailingComma := "[" + strings.Join(quoted, ",") + ",]"
	blank := nineShots()
	blank[4] = "   "
	blankJSON, _ := json.Marshal(blank)

	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "plain", raw: string(valid)},
		{name: "fenced", raw: "```json\n" + string(valid) + "\n```"},
		{name: "bare fence", raw: "```" + string(valid) + "```"},
		{name: "trailing comma repaired", raw: trailingComma},
		{name: "ten items", raw: string(ten), wantErr: true},
		{name: "object", raw: `{"shots":[]}`, wantErr: true},
		{name: "non-string item", raw: `[1,2,3,4,5,6,7,8,9]`, wantErr: true},
		{name: "blank item", raw: string(blankJSON), wantErr: true},
		{name: "empty", raw: "  ", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shots, err := ParseShotList(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, nineShots(), shots)
		})
	}
}

package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepRecord(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x05, 0x03, 0x00, 0xCE, 0x01}, StepRecord(0, 5, Mode0Body(0, 0xCE, 1)...))
	assert.Equal(t, []byte{0x00, 0x0b, 0x05, 0x00, 0xd3, 0x01, 0x32, 0x7f},
		StepRecord(0, 11, Mode0BodyWithOffset(0, 0xd3, 1, 0x7f32)...))
}

func TestMode2Body(t *testing.T) {
	body := Mode2Body(3, Tone{I: -1, Q: 1, Quality: 1, Slot: 2}, Tone{I: -2048, Q: 2047})
	assert.Equal(t, []byte{
		0x03,
		0xFF, 0x1F, 0x00, 0x21,
		0x00, 0xF8, 0x7F, 0x00,
	}, body)
}

func TestPhaseStepsLayout(t *testing.T) {
	buf := PhaseSteps([]int{2, 3, 4}, 1e6, 0, 1000)
	// 3 header bytes + 1 permutation byte + 2 tones of 4 bytes each.
	assert.Len(t, buf, 3*12)
	assert.Equal(t, []byte{2, 2, 9}, buf[0:3])
	assert.Equal(t, byte(3), buf[13])
}

func TestBlockRender(t *testing.T) {
	offset := 12.5
	text := Block{Counter: 9, RefPower: -20, NumSteps: 1, FreqOffset: &offset,
		Steps: StepRecord(0, 11, Mode0Body(0, 0x7F, 1)...)}.Render()

	assert.True(t, strings.HasPrefix(text, "I: CS Subevent result received:\n"))
	assert.Contains(t, text, "I:  - Procedure counter: 9\n")
	assert.Contains(t, text, "I:  - Measured frequency offset: 12.5\n")
	assert.Contains(t, text, "I: Raw step data:\n  000b03007f01\n")
	assert.True(t, strings.HasSuffix(text, "I: CS Subevent end\n"))

	text = Block{Counter: 1, Steps: []byte{1}, OmitStepData: true}.Render()
	assert.NotContains(t, text, "Raw step data")
}

func TestLogWrapsLongStepData(t *testing.T) {
	steps := make([]byte, 20)
	text := Log(Block{Counter: 1, Steps: steps})
	assert.Contains(t, text, "  "+strings.Repeat("00", 16)+"\n  "+strings.Repeat("00", 4)+"\n")
	assert.Equal(t, 1, strings.Count(text, "CS Subevent result received:"))
}

package manual

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AustinTapp/FAST"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name        string
		sequences   int
		sequence    int
		looping     bool
		replays     int
		replaysDone int

		expected         fast.Continuation
		expectedSequence int
		expectedReplays  int
	}{
		{
			name:             "not last sequence",
			sequences:        3,
			sequence:         0,
			expected:         fast.NextSequence,
			expectedSequence: 1,
		},
		{
			name:             "not last sequence while looping",
			sequences:        3,
			sequence:         1,
			looping:          true,
			expected:         fast.NextSequence,
			expectedSequence: 2,
		},
		{
			name:             "last sequence looping",
			sequences:        3,
			sequence:         2,
			looping:          true,
			replays:          1,
			expected:         fast.Restart,
			expectedSequence: 0,
		},
		{
			name:             "last sequence with replays left",
			sequences:        2,
			sequence:         1,
			replays:          2,
			replaysDone:      1,
			expected:         fast.Restart,
			expectedSequence: 0,
			expectedReplays:  2,
		},
		{
			name:             "last sequence without replays left",
			sequences:        2,
			sequence:         1,
			replays:          2,
			replaysDone:      2,
			expected:         fast.End,
			expectedSequence: 1,
			expectedReplays:  2,
		},
		{
			name:             "single sequence without replays",
			sequences:        1,
			expected:         fast.End,
			expectedSequence: 0,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := &Streamer{
				sequences:   make([][]fast.DataObject, test.sequences),
				startNumber: 1,
				sequence:    test.sequence,
				frame:       5,
				looping:     test.looping,
				replays:     test.replays,
				replaysDone: test.replaysDone,
			}
			assert.Equal(t, test.expected, m.next())
			assert.Equal(t, test.expectedSequence, m.sequence)
			assert.Equal(t, test.expectedReplays, m.replaysDone)
			if test.expected == fast.End {
				assert.Equal(t, 5, m.frame)
			} else {
				assert.Equal(t, 1, m.frame)
			}
		})
	}
}

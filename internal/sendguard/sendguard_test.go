package sendguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dbxlink/internal/convert"
)

func conv(name string, status convert.Status) convert.ConversionState {
	return convert.ConversionState{LocalPath: "/d/" + name, FileName: name, Status: status}
}

func TestValidate_NothingToCheckAllows(t *testing.T) {
	res := Validate(nil, nil, DefaultSizeThreshold)

	assert.Equal(t, Result{}, res)
}

func TestValidate_OneFailedBlocks(t *testing.T) {
	states := []convert.ConversionState{
		conv("ok.txt", convert.Success),
		conv("report.pdf", convert.Failed),
		conv("later.txt", convert.Pending),
	}

	res := Validate(states, []Attachment{{Name: "big.zip", Size: DefaultSizeThreshold * 2}}, 0)

	assert.True(t, res.Block)
	assert.False(t, res.ShowSizeWarning)
	assert.Contains(t, res.Message, `"report.pdf"`)
	assert.Contains(t, res.Message, "The shared link for")
	require.Len(t, res.FailedConversions, 1)
	assert.Equal(t, "report.pdf", res.FailedConversions[0].FileName)
	assert.Empty(t, res.LargeAttachments)
}

func TestValidate_SeveralFailedListsAllNames(t *testing.T) {
	states := []convert.ConversionState{
		conv("a.txt", convert.Failed),
		conv("b.txt", convert.Success),
		conv("c.txt", convert.Failed),
	}

	res := Validate(states, nil, 0)

	assert.True(t, res.Block)
	assert.Contains(t, res.Message, "Shared links for 2 files could not be created: a.txt, c.txt.")
	assert.Len(t, res.FailedConversions, 2)
}

func TestValidate_FailedNameFallsBackToPath(t *testing.T) {
	res := Validate([]convert.ConversionState{{LocalPath: "/x/y.bin", Status: convert.Failed}}, nil, 0)

	assert.Contains(t, res.Message, `"/x/y.bin"`)
}

func TestValidate_PendingBlocksRegardlessOfAttachments(t *testing.T) {
	for _, status := range []convert.Status{convert.Pending, convert.InProgress} {
		t.Run(status.String(), func(t *testing.T) {
			states := []convert.ConversionState{conv("a.txt", convert.Success), conv("b.txt", status)}
			attachments := []Attachment{{Name: "huge.iso", Size: 1 << 40}}

			res := Validate(states, attachments, DefaultSizeThreshold)

			assert.True(t, res.Block)
			assert.False(t, res.ShowSizeWarning)
			assert.Contains(t, res.Message, "still being created")
			assert.Empty(t, res.FailedConversions)
			assert.Empty(t, res.LargeAttachments)
		})
	}
}

func TestValidate_ThresholdIsInclusive(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		wantWarn bool
	}{
		{"one byte under", 10485759, false},
		{"exactly at threshold", 10485760, true},
		{"over", 10485761, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(nil, []Attachment{{Name: "file.bin", Size: tt.size}}, 10485760)

			assert.False(t, res.Block)
			assert.Equal(t, tt.wantWarn, res.ShowSizeWarning)

			if tt.wantWarn {
				assert.Contains(t, res.Message, `"file.bin"`)
				assert.Contains(t, res.Message, "10.0 MB")
				assert.Len(t, res.LargeAttachments, 1)
			} else {
				assert.Empty(t, res.Message)
			}
		})
	}
}

func TestValidate_SeveralLargeAttachmentsSummed(t *testing.T) {
	attachments := []Attachment{
		{Name: "a.zip", Size: 15 * 1024 * 1024},
		{Name: "small.txt", Size: 100},
		{Name: "b.zip", Size: 20 * 1024 * 1024},
	}

	res := Validate([]convert.ConversionState{conv("ok", convert.Success)}, attachments, DefaultSizeThreshold)

	assert.False(t, res.Block)
	assert.True(t, res.ShowSizeWarning)
	assert.Contains(t, res.Message, "2 attachments")
	assert.Contains(t, res.Message, "35.0 MB total")
	require.Len(t, res.LargeAttachments, 2)
	assert.Equal(t, "a.zip", res.LargeAttachments[0].Name)
	assert.Equal(t, "b.zip", res.LargeAttachments[1].Name)
}

func TestValidate_NonPositiveThresholdUsesDefault(t *testing.T) {
	res := Validate(nil, []Attachment{{Name: "x", Size: DefaultSizeThreshold}}, -1)
	assert.True(t, res.ShowSizeWarning)

	res = Validate(nil, []Attachment{{Name: "x", Size: DefaultSizeThreshold - 1}}, 0)
	assert.False(t, res.ShowSizeWarning)
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	states := []convert.ConversionState{conv("a", convert.Failed)}
	attachments := []Attachment{{Name: "b", Size: 1}}

	_ = Validate(states, attachments, 0)

	assert.Equal(t, convert.Failed, states[0].Status)
	assert.Equal(t, int64(1), attachments[0].Size)
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{10485760, "10.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.0 TB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.bytes))
	}
}

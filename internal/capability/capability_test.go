package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkace1998/content-transformer/internal/config"
)

func TestReadPrecedence(t *testing.T) {
	props := config.FromMap(map[string]string{
		"transformer.pdf.transformerOptions":         "pdfOptions, commonOptions",
		"transformer.pdf.default.priority":           "40",
		"transformer.pdf.default.maxSourceSizeBytes": "5000",
		"transformer.pdf.sourceMimetypes":            "text/plain,text/html",
		"transformer.pdf.targetMimetypes":            "application/pdf,image/png",

		// source level
		"transformer.pdf.text/html.priority": "30",

		// wildcard terminal
		"transformer.pdf.*.image/png.priority":           "70",
		"transformer.pdf.*.image/png.maxSourceSizeBytes": "100",

		// terminal beats wildcard
		"transformer.pdf.text/html.image/png.priority": "10",

		// pair switched off
		"transformer.pdf.text/plain.application/pdf.supported": "false",

		// source only listed through its own target list
		"transformer.pdf.image/gif.targetMimetypes":    "image/png",
		"transformer.pdf.image/gif.maxSourceSizeBytes": "-1",
	})

	st, err := Read(props, PrefixTransformer, "pdf")
	require.NoError(t, err)

	assert.Equal(t, "pdf", st.Name)
	assert.Equal(t, []string{"pdfOptions", "commonOptions"}, st.OptionProfiles)
	assert.Equal(t, []SupportedTransformation{
		{SourceMimetype: "image/gif", TargetMimetype: "image/png", MaxSourceSizeBytes: 100, Priority: 70},
		{SourceMimetype: "text/html", TargetMimetype: "application/pdf", MaxSourceSizeBytes: 5000, Priority: 30},
		{SourceMimetype: "text/html", TargetMimetype: "image/png", MaxSourceSizeBytes: 100, Priority: 10},
		{SourceMimetype: "text/plain", TargetMimetype: "image/png", MaxSourceSizeBytes: 100, Priority: 70},
	}, st.Transformations)
}

func TestReadDefaults(t *testing.T) {
	props := config.FromMap(map[string]string{
		"metadataExtracter.html.sourceMimetypes": "text/html",
		"metadataExtracter.html.targetMimetypes": "alfresco-metadata-extract",
	})

	st, err := Read(props, PrefixMetadataExtracter, "html")
	require.NoError(t, err)
	assert.Empty(t, st.OptionProfiles)
	require.Len(t, st.Transformations, 1)
	assert.Equal(t, DefaultPriority, st.Transformations[0].Priority)
	assert.EqualValues(t, UnlimitedSourceBytes, st.Transformations[0].MaxSourceSizeBytes)
}

func TestReadSourceTargetsReplaceGlobalTargets(t *testing.T) {
	props := config.FromMap(map[string]string{
		"transformer.t.sourceMimetypes":            "a/a,b/b",
		"transformer.t.targetMimetypes":            "x/x",
		"transformer.t.b/b.targetMimetypes":        "y/y",
		"transformer.t.wildcard-only.other":        "ignored",
	})

	st, err := Read(props, PrefixTransformer, "t")
	require.NoError(t, err)
	require.Len(t, st.Transformations, 2)
	assert.Equal(t, "x/x", st.Transformations[0].TargetMimetype)
	assert.Equal(t, "y/y", st.Transformations[1].TargetMimetype)
}

func TestReadRejectsMalformedNumbers(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"default priority", "transformer.t.default.priority", "high"},
		{"source size below -1", "transformer.t.a/a.maxSourceSizeBytes", "-2"},
		{"terminal priority", "transformer.t.a/a.x/x.priority", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := config.FromMap(map[string]string{
				"transformer.t.sourceMimetypes": "a/a",
				"transformer.t.targetMimetypes": "x/x",
				tt.key:                          tt.value,
			})
			_, err := Read(props, PrefixTransformer, "t")
			var cfgErr *config.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestAccepts(t *testing.T) {
	bounded := SupportedTransformation{MaxSourceSizeBytes: 1000}
	assert.True(t, bounded.Accepts(1000))
	assert.False(t, bounded.Accepts(1001))
	assert.True(t, SupportedTransformation{MaxSourceSizeBytes: -1}.Accepts(1<<40))
}

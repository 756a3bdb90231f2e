package sourcetable

import (
	"testing"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate_RequiredFieldsMissing(t *testing.T) {
	t.Parallel()

	_, err := translate(map[string]string{})
	require.Error(t, err)
	assert.Equal(t, apierr.KindBadRequest, apierr.KindOf(err))
}

func TestTranslate_ExcelWithoutSubTableFails(t *testing.T) {
	t.Parallel()

	_, err := translate(map[string]string{
		"table_name": "FOO",
		"file_id":    "F1",
		"file_name":  "foo.xlsx",
	})
	require.Error(t, err)
	assert.Equal(t, apierr.KindBadRequest, apierr.KindOf(err))
	assert.Contains(t, err.Error(), "Sub Table must be not null")
}

func TestTranslate_ExcelWithSubTableSucceeds(t *testing.T) {
	t.Parallel()

	st, err := translate(map[string]string{
		"table_name": "FOO",
		"file_id":    "F1",
		"file_name":  "foo.xlsx",
		"sub_table":  "Sheet1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.LoaderExcel, st.LoaderType)
	require.NotNil(t, st.SubTable)
	assert.Equal(t, "Sheet1", *st.SubTable)
}

func TestTranslate_FlatRequiresDelimiter(t *testing.T) {
	t.Parallel()

	_, err := translate(map[string]string{
		"table_name": "FOO",
		"file_id":    "F1",
		"file_name":  "foo.csv",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delimiter is required")
}

func TestTranslate_DelimiterMustBeSingleChar(t *testing.T) {
	t.Parallel()

	_, err := translate(map[string]string{
		"table_name": "FOO",
		"file_id":    "F1",
		"file_name":  "foo.csv",
		"delimiter":  "::",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single character")
}

func TestTranslate_BlankOptionalFieldsAreNull(t *testing.T) {
	t.Parallel()

	st, err := translate(map[string]string{
		"table_name": "FOO",
		"file_id":    "F1",
		"file_name":  "foo.csv",
		"delimiter":  ",",
		"url":        "  ",
		"comments":   "",
	})
	require.NoError(t, err)
	assert.Nil(t, st.URL)
	assert.Nil(t, st.Comments)
}

func TestTranslate_CollectTypeMustParse(t *testing.T) {
	t.Parallel()

	_, err := translate(map[string]string{
		"table_name":   "FOO",
		"file_id":      "F1",
		"file_name":    "foo.csv",
		"delimiter":    ",",
		"collect_type": "Bogus",
	})
	require.Error(t, err)
	assert.Equal(t, apierr.KindBadRequest, apierr.KindOf(err))
}

func TestTranslate_BooleanFieldsRequireOn(t *testing.T) {
	t.Parallel()

	st, err := translate(map[string]string{
		"table_name": "FOO",
		"file_id":    "F1",
		"file_name":  "foo.csv",
		"delimiter":  ",",
		"qualified":  "on",
		"analyze":    "true",
		"load":       "on",
	})
	require.NoError(t, err)
	assert.True(t, st.Qualified)
	assert.False(t, st.Analyze, "only the literal string \"on\" counts as checked")
	assert.True(t, st.Load)
}

func TestExtensionLoaderType(t *testing.T) {
	t.Parallel()

	cases := map[string]model.LoaderType{
		"a.csv":    model.LoaderFlat,
		"a.TXT":    model.LoaderFlat,
		"a.xls":    model.LoaderExcel,
		"a.xlsx":   model.LoaderExcel,
		"a.mdb":    model.LoaderMDB,
		"a.accdb":  model.LoaderMDB,
		"a.dbf":    model.LoaderDBF,
	}
	for name, want := range cases {
		got, err := extensionLoaderType(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := extensionLoaderType("a.unknown")
	require.Error(t, err)
}

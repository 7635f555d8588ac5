package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalDocument = `{
	"appId": "C1001",
	"name": "App",
	"pkgName": "com.example.app",
	"kindId": "13",
	"version": "1.0",
	"versionCode": 100,
	"downCount": "12345",
	"releaseCountries": ["CN"]
}`

func TestDecodeDocumentAppliesDefaults(t *testing.T) {
	t.Parallel()

	doc, err := DecodeDocument([]byte(minimalDocument))
	require.NoError(t, err)

	require.Equal(t, "C1001", doc.AppID)
	require.Equal(t, Text(DefaultHot), doc.Hot)
	require.Equal(t, Text(DefaultRateNum), doc.RateNum)
	require.Equal(t, DefaultAPIReleaseType, doc.APIReleaseType)
	require.Equal(t, []Int{0}, doc.MainDeviceCodes)
	require.Empty(t, doc.NewFeatures)
	require.Empty(t, doc.UpgradeMsg)
	require.Zero(t, doc.CompileSDK)
	require.Nil(t, doc.TagName)

	metric := doc.Metric()
	require.Equal(t, 0.0, metric.InfoScore)
	require.Equal(t, int64(12345), metric.DownloadCount)
	require.Equal(t, "1.0", metric.Version)
	require.Equal(t, int64(13), doc.Info().KindID)
}

func TestDecodeDocumentToleratesNumericDrift(t *testing.T) {
	t.Parallel()

	doc, err := DecodeDocument([]byte(`{
		"appId": "C1",
		"kindId": 7,
		"version": 2,
		"iap": "1",
		"orderApp": true,
		"hot": null,
		"targetSdk": "not-a-number",
		"size": "12MB",
		"versionCode": " 42 "
	}`))
	require.NoError(t, err)

	info := doc.Info()
	require.Equal(t, int64(7), info.KindID)
	require.True(t, info.IAP)
	require.True(t, info.OrderApp)

	metric := doc.Metric()
	require.Equal(t, "2", metric.Version)
	require.Equal(t, 0.0, metric.InfoScore)
	require.Zero(t, metric.TargetSDK)
	require.Zero(t, metric.SizeBytes)
	require.Equal(t, int64(42), metric.VersionCode)
}

func TestDecodeDocumentErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":       `<html>`,
		"array":          `[1,2]`,
		"missing app id": `{"name":"x"}`,
		"object as text": `{"appId":"C1","version":{"a":1}}`,
		"object as int":  `{"appId":"C1","size":{"a":1}}`,
	}
	for name, body := range cases {
		_, err := DecodeDocument([]byte(body))
		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr), name)
	}
}

func TestNormalizeStripsNoise(t *testing.T) {
	t.Parallel()

	a, err := Normalize([]byte(`{"appId":"C1","AG-TraceId":"abc","privacyUrl":"https://p\u0000x","name":"A"}`))
	require.NoError(t, err)
	b, err := Normalize([]byte(`{"name":"A","privacyUrl":"https://px","appId":"C1","AG-TraceId":"def"}`))
	require.NoError(t, err)

	require.Equal(t, string(a), string(b))
	require.NotContains(t, string(a), TraceIDField)
	require.JSONEq(t, `{"appId":"C1","name":"A","privacyUrl":"https://px"}`, string(a))
}

func TestJSONEqual(t *testing.T) {
	t.Parallel()

	require.True(t, JSONEqual([]byte(`{"a":1,"b":[1,2]}`), []byte(`{"b":[1,2], "a":1.0}`)))
	require.False(t, JSONEqual([]byte(`{"a":1}`), []byte(`{"a":2}`)))
	require.True(t, JSONEqual(nil, []byte(`{}`)))
	require.False(t, JSONEqual([]byte(`{}`), []byte(`{"a":1}`)))
}

func TestDecodeRating(t *testing.T) {
	t.Parallel()

	rating, err := DecodeRating([]byte(`{
		"averageRating": "4.5",
		"oneStarRatingCount": 1,
		"fiveStarRatingCount": "9",
		"totalStarRatingCount": 10,
		"fullAverageRating": "4.52",
		"sourceType": "0"
	}`))
	require.NoError(t, err)

	proj := rating.Rating("C1")
	require.Equal(t, "C1", proj.AppID)
	require.Equal(t, 4.5, proj.AverageRating)
	require.Equal(t, int64(9), proj.Star5Count)
	require.Equal(t, 4.52, proj.FullAverageRating)

	_, err = DecodeRating([]byte(`"nope"`))
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

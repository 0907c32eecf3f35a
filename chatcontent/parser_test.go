package chatcontent

import (
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_CoalescesAdjacentProducts(t *testing.T) {
	raw := `Check this: {"type":"product","name":"Shirt","price":20} {"type":"product","name":"Hat","price":15} thanks`

	segments := Parse(raw)
	require.Len(t, segments, 3)

	assert.Equal(t, SegmentText, segments[0].Kind)
	assert.Equal(t, "Check this:", segments[0].Text)

	require.Equal(t, SegmentProducts, segments[1].Kind)
	require.Len(t, segments[1].Products, 2)
	assert.Equal(t, "Shirt", segments[1].Products[0]["name"])
	assert.Equal(t, "Hat", segments[1].Products[1]["name"])

	assert.Equal(t, SegmentText, segments[2].Kind)
	assert.Equal(t, "thanks", segments[2].Text)
}

func TestParse_TextBetweenRecordsKeepsOrder(t *testing.T) {
	raw := `Check this: {"type":"product","name":"Shirt"} and also {"type":"product","name":"Hat"} thanks`

	segments := Parse(raw)
	require.Len(t, segments, 5)
	assert.Equal(t, "Check this:", segments[0].Text)
	assert.Equal(t, "Shirt", segments[1].Products[0]["name"])
	assert.Equal(t, "and also", segments[2].Text)
	assert.Equal(t, "Hat", segments[3].Products[0]["name"])
	assert.Equal(t, "thanks", segments[4].Text)
}

func TestParse_MixedTypesDoNotCoalesce(t *testing.T) {
	raw := `{"type":"order","order_id":"o-1","status":"Shipped","total":10}
{"type":"order","order_id":"o-2","status":"Delivered","total":12}
{"type":"product","name":"Socks"}`

	segments := Parse(raw)
	require.Len(t, segments, 2)
	require.Equal(t, SegmentOrders, segments[0].Kind)
	require.Len(t, segments[0].Orders, 2)
	assert.Equal(t, "o-2", segments[0].Orders[1]["order_id"])
	assert.Equal(t, SegmentProducts, segments[1].Kind)
}

func TestParse_BracesInsideStrings(t *testing.T) {
	raw := `Here: {"type":"product","name":"Brace } and { \"quoted\"","sizes":["M"]} done`

	segments := Parse(raw)
	require.Len(t, segments, 3)
	require.Equal(t, SegmentProducts, segments[1].Kind)
	assert.Equal(t, `Brace } and { "quoted"`, segments[1].Products[0]["name"])
	assert.Equal(t, []any{"M"}, segments[1].Products[0]["sizes"])
	assert.Equal(t, "done", segments[2].Text)
}

func TestParse_WhitespaceTolerantLocator(t *testing.T) {
	segments := Parse(`{ "type" : "product", "name": "Cap" }`)
	require.Len(t, segments, 1)
	assert.Equal(t, "Cap", segments[0].Products[0]["name"])
}

func TestParse_UnclosedRecordTerminates(t *testing.T) {
	raw := `Look {"type":"product","name":"Shirt"`

	segments := Parse(raw)
	require.NotEmpty(t, segments)

	var all []string
	for _, s := range segments {
		assert.Equal(t, SegmentText, s.Kind)
		all = append(all, s.Text)
	}
	assert.Contains(t, strings.Join(all, " "), `{"type":"product"`)
}

func TestParse_MalformedRecordDemoted(t *testing.T) {
	raw := `A {"type":"product","name":"Shirt",} B {"type":"order","order_id":"o-9"}`

	segments := Parse(raw)
	require.Len(t, segments, 2)
	assert.Equal(t, SegmentText, segments[0].Kind)
	assert.Contains(t, segments[0].Text, `{"type":"product","name":"Shirt",}`)
	assert.Equal(t, SegmentOrders, segments[1].Kind)
	assert.Equal(t, "o-9", segments[1].Orders[0]["order_id"])
}

func TestParse_KeepsUnexpectedFieldTypes(t *testing.T) {
	segments := Parse(`Try this: {"type":"product","name":"Shirt","price":"19.99","stock":2.5} ok`)

	require.Len(t, segments, 3)
	require.Equal(t, SegmentProducts, segments[1].Kind)
	product := segments[1].Products[0]
	assert.Equal(t, "19.99", product["price"])
	assert.Equal(t, json.Number("2.5"), product["stock"])
}

func TestParse_KeepsEveryKey(t *testing.T) {
	raw := `{"type":"product","name":"Hat","price":10,"product_id":"p-7","rating":4.5,"meta":{"tags":["a"]}}`

	segments := Parse(raw)
	require.Len(t, segments, 1)
	product := segments[0].Products[0]
	assert.Equal(t, "p-7", product["product_id"])
	assert.Equal(t, json.Number("4.5"), product["rating"])
	assert.Equal(t, map[string]any{"tags": []any{"a"}}, product["meta"])

	data, err := json.Marshal(segments[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"products","items":[`+raw+`]}`, string(data))
}

func TestParse_Adversarial(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		`{"type":"product"`,
		strings.Repeat(`{"type":"order"`, 200),
		`{"type":"product","name":"\`,
		`}}}{"type":"product"}}}`,
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { Parse(in) })
	}
	assert.Empty(t, Parse("   "))
}

func TestSegment_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Parse(`Hi {"type":"product","name":"Hat","price":5}`))
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "text", decoded[0]["type"])
	assert.Equal(t, "Hi", decoded[0]["text"])
	assert.Equal(t, "products", decoded[1]["type"])
	assert.Len(t, decoded[1]["items"], 1)
}

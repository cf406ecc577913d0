package fetcher

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mongo-fetcher/errcode"
)

func mustRaw(t *testing.T, doc interface{}) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	return bson.Raw(raw)
}

func TestParseCursorResponseMalformed(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		reply   bson.D
		code    errcode.Code
		message string
	}{
		{
			"cursor field missing",
			bson.D{{Key: "ok", Value: 1}},
			errcode.FailedToParse,
			"must contain 'cursor' field",
		},
		{
			"cursor not an object",
			bson.D{{Key: "cursor", Value: 123}, {Key: "ok", Value: 1}},
			errcode.FailedToParse,
			"'cursor' field must be an object",
		},
		{
			"cursor id missing",
			bson.D{
				{Key: "cursor", Value: bson.D{
					{Key: "ns", Value: "db.coll"},
					{Key: "firstBatch", Value: bson.A{}},
				}},
				{Key: "ok", Value: 1},
			},
			errcode.FailedToParse,
			"must contain 'cursor.id' field",
		},
		{
			"cursor id not an integer",
			bson.D{
				{Key: "cursor", Value: bson.D{
					{Key: "id", Value: 123.1},
					{Key: "ns", Value: "db.coll"},
					{Key: "firstBatch", Value: bson.A{}},
				}},
				{Key: "ok", Value: 1},
			},
			errcode.FailedToParse,
			"'cursor.id' field must be",
		},
		{
			"cursor id not a number",
			bson.D{
				{Key: "cursor", Value: bson.D{
					{Key: "id", Value: "123"},
					{Key: "ns", Value: "db.coll"},
					{Key: "firstBatch", Value: bson.A{}},
				}},
				{Key: "ok", Value: 1},
			},
			errcode.FailedToParse,
			"'cursor.id' field must be",
		},
		{
			"namespace missing",
			bson.D{
				{Key: "cursor", Value: bson.D{
					{Key: "id", Value: int64(123)},
					{Key: "firstBatch", Value: bson.A{}},
				}},
				{Key: "ok", Value: 1},
			},
			errcode.FailedToParse,
			"must contain 'cursor.ns' field",
		},
		{
			"namespace not a string",
			bson.D{
				{Key: "cursor", Value: bson.D{
					{Key: "id", Value: int64(123)},
					{Key: "ns", Value: 123},
					{Key: "firstBatch", Value: bson.A{}},
				}},
				{Key: "ok", Value: 1},
			},
			errcode.FailedToParse,
			"'cursor.ns' field must be a string",
		},
		{
			"namespace empty",
			bson.D{
				{Key: "cursor", Value: bson.D{
					{Key: "id", Value: int64(123)},
					{Key: "ns", Value: ""},
					{Key: "firstBatch", Value: bson.A{}},
				}},
				{Key: "ok", Value: 1},
			},
			errcode.BadValue,
			"'cursor.ns' contains an invalid namespace",
		},
		{
			"namespace missing collection name",
			bson.D{
				{Key: "cursor", Value: bson.D{
					{Key: "id", Value: int64(123)},
					{Key: "ns", Value: "db."},
					{Key: "firstBatch", Value: bson.A{}},
				}},
				{Key: "ok", Value: 1},
			},
			errcode.BadValue,
			"'cursor.ns' contains an invalid namespace",
		},
		{
			"first batch missing",
			bson.D{
				{Key: "cursor", Value: bson.D{
					{Key: "id", Value: int64(0)},
					{Key: "ns", Value: "db.coll"},
				}},
				{Key: "ok", Value: 1},
			},
			errcode.FailedToParse,
			"must contain 'cursor.firstBatch' field",
		},
		{
			"first batch not an array",
			bson.D{
				{Key: "cursor", Value: bson.D{
					{Key: "id", Value: int64(0)},
					{Key: "ns", Value: "db.coll"},
					{Key: "firstBatch", Value: 123},
				}},
				{Key: "ok", Value: 1},
			},
			errcode.FailedToParse,
			"'cursor.firstBatch' field must be an array",
		},
		{
			"first batch contains non-object",
			bson.D{
				{Key: "cursor", Value: bson.D{
					{Key: "id", Value: int64(0)},
					{Key: "ns", Value: "db.coll"},
					{Key: "firstBatch", Value: bson.A{8}},
				}},
				{Key: "ok", Value: 1},
			},
			errcode.FailedToParse,
			"found non-object",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			batch, err := parseCursorResponse(mustRaw(t, tc.reply), true)
			require.Nil(t, batch)
			require.Error(t, err)
			require.Equal(t, tc.code, errcode.CodeOf(err), "unexpected code for error: %v", err)
			require.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestParseCursorResponseCommandFailure(t *testing.T) {
	t.Parallel()

	reply := mustRaw(t, bson.D{
		{Key: "ok", Value: 0},
		{Key: "errmsg", Value: "bad hint"},
		{Key: "code", Value: int32(errcode.BadValue)},
	})
	batch, err := parseCursorResponse(reply, true)
	require.Nil(t, batch)
	require.Equal(t, errcode.BadValue, errcode.CodeOf(err))
	require.Equal(t, "bad hint", errcode.Message(err))
}

func TestParseCursorResponseCommandFailureWithoutCode(t *testing.T) {
	t.Parallel()

	batch, err := parseCursorResponse(mustRaw(t, bson.D{{Key: "ok", Value: 0}}), true)
	require.Nil(t, batch)
	require.Equal(t, errcode.UnknownError, errcode.CodeOf(err))
	require.Equal(t, "command failed", errcode.Message(err))
}

func TestParseCursorResponseMissingAck(t *testing.T) {
	t.Parallel()

	batch, err := parseCursorResponse(mustRaw(t, bson.D{{Key: "whatever", Value: 1}}), true)
	require.Nil(t, batch)
	require.Equal(t, errcode.UnknownError, errcode.CodeOf(err))
}

func TestParseCursorResponseEmptyBatch(t *testing.T) {
	t.Parallel()

	reply := mustRaw(t, bson.D{
		{Key: "cursor", Value: bson.D{
			{Key: "id", Value: int64(0)},
			{Key: "ns", Value: "db.coll"},
			{Key: "firstBatch", Value: bson.A{}},
		}},
		{Key: "ok", Value: 1},
	})
	batch, err := parseCursorResponse(reply, true)
	require.NoError(t, err)
	require.Equal(t, int64(0), batch.CursorID)
	require.Empty(t, batch.Documents)
}

func TestParseCursorResponseDocuments(t *testing.T) {
	t.Parallel()

	doc1 := mustRaw(t, bson.D{{Key: "_id", Value: int32(1)}})
	doc2 := mustRaw(t, bson.D{{Key: "_id", Value: int32(2)}})
	reply := mustRaw(t, bson.D{
		{Key: "cursor", Value: bson.D{
			{Key: "id", Value: int64(7)},
			{Key: "ns", Value: "db.coll"},
			{Key: "firstBatch", Value: bson.A{doc1, doc2}},
		}},
		{Key: "ok", Value: 1},
	})

	batch, err := parseCursorResponse(reply, true)
	require.NoError(t, err)

	want := &Batch{
		CursorID:  7,
		Namespace: Namespace{DB: "db", Collection: "coll"},
		Documents: []bson.Raw{doc1, doc2},
	}
	if diff := cmp.Diff(want, batch); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCursorResponseBatchFieldName(t *testing.T) {
	t.Parallel()

	next := bson.D{
		{Key: "cursor", Value: bson.D{
			{Key: "id", Value: int64(0)},
			{Key: "ns", Value: "db.coll"},
			{Key: "nextBatch", Value: bson.A{}},
		}},
		{Key: "ok", Value: 1},
	}

	// A follow-up reply uses 'nextBatch', and the first reply must not.
	_, err := parseCursorResponse(mustRaw(t, next), false)
	require.NoError(t, err)

	_, err = parseCursorResponse(mustRaw(t, next), true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must contain 'cursor.firstBatch' field")
}

func TestParseCursorResponseIntegerWidths(t *testing.T) {
	t.Parallel()

	for _, id := range []interface{}{int32(5), int64(5), float64(5)} {
		reply := mustRaw(t, bson.D{
			{Key: "cursor", Value: bson.D{
				{Key: "id", Value: id},
				{Key: "ns", Value: "db.coll"},
				{Key: "firstBatch", Value: bson.A{}},
			}},
			{Key: "ok", Value: 1},
		})
		batch, err := parseCursorResponse(reply, true)
		require.NoError(t, err, "cursor.id of type %T should be accepted", id)
		require.Equal(t, int64(5), batch.CursorID)
	}
}

package fetcher

import (
	"math"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/ikmak/mongo-fetcher/errcode"
)

const (
	firstBatchField = "firstBatch"
	nextBatchField  = "nextBatch"
)

// commandStatus extracts the acknowledgement of a command reply. When the
// command did not succeed it returns the server's reported code and message
// verbatim.
func commandStatus(reply bson.Raw) error {
	if commandOK(reply) {
		return nil
	}

	code := errcode.UnknownError
	if v, err := reply.LookupErr("code"); err == nil {
		if c, ok := asInt64(v); ok {
			code = errcode.Code(c)
		}
	}
	msg := "command failed"
	if v, err := reply.LookupErr("errmsg"); err == nil {
		if s, ok := v.StringValueOK(); ok {
			msg = s
		}
	}
	return errcode.New(code, msg)
}

func commandOK(reply bson.Raw) bool {
	v, err := reply.LookupErr("ok")
	if err != nil {
		return false
	}
	switch v.Type {
	case bsontype.Boolean:
		return v.Boolean()
	case bsontype.Int32:
		return v.Int32() != 0
	case bsontype.Int64:
		return v.Int64() != 0
	case bsontype.Double:
		return v.Double() != 0
	}
	return false
}

// asInt64 converts a numeric value to int64. Non-integral doubles are
// rejected.
func asInt64(v bson.RawValue) (int64, bool) {
	switch v.Type {
	case bsontype.Int32:
		return int64(v.Int32()), true
	case bsontype.Int64:
		return v.Int64(), true
	case bsontype.Double:
		f := v.Double()
		if f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

// parseCursorResponse validates the cursor envelope of a command reply and
// extracts its batch. The initial response of a walk carries its batch in
// 'cursor.firstBatch'; every subsequent response uses 'cursor.nextBatch'.
func parseCursorResponse(reply bson.Raw, first bool) (*Batch, error) {
	if err := commandStatus(reply); err != nil {
		return nil, err
	}

	batchField := nextBatchField
	if first {
		batchField = firstBatchField
	}

	cursorValue, err := reply.LookupErr("cursor")
	if err != nil {
		return nil, errcode.Newf(errcode.FailedToParse,
			"cursor response must contain 'cursor' field: %s", reply)
	}
	cursorDoc, ok := cursorValue.DocumentOK()
	if !ok {
		return nil, errcode.Newf(errcode.FailedToParse,
			"'cursor' field must be an object: %s", reply)
	}

	idValue, err := cursorDoc.LookupErr("id")
	if err != nil {
		return nil, errcode.Newf(errcode.FailedToParse,
			"cursor response must contain 'cursor.id' field: %s", cursorDoc)
	}
	cursorID, ok := asInt64(idValue)
	if !ok {
		return nil, errcode.Newf(errcode.FailedToParse,
			"'cursor.id' field must be a 64-bit integer, but was a BSON %s", idValue.Type)
	}

	nsValue, err := cursorDoc.LookupErr("ns")
	if err != nil {
		return nil, errcode.Newf(errcode.FailedToParse,
			"cursor response must contain 'cursor.ns' field: %s", cursorDoc)
	}
	nsString, ok := nsValue.StringValueOK()
	if !ok {
		return nil, errcode.Newf(errcode.FailedToParse,
			"'cursor.ns' field must be a string, but was a BSON %s", nsValue.Type)
	}
	ns, err := ParseNamespace(nsString)
	if err != nil {
		return nil, errcode.Newf(errcode.BadValue,
			"'cursor.ns' contains an invalid namespace: %q", nsString)
	}

	batchValue, err := cursorDoc.LookupErr(batchField)
	if err != nil {
		return nil, errcode.Newf(errcode.FailedToParse,
			"cursor response must contain 'cursor.%s' field: %s", batchField, cursorDoc)
	}
	if batchValue.Type != bsontype.Array {
		return nil, errcode.Newf(errcode.FailedToParse,
			"'cursor.%s' field must be an array, but was a BSON %s", batchField, batchValue.Type)
	}
	values, err := bson.Raw(batchValue.Value).Values()
	if err != nil {
		return nil, errcode.Newf(errcode.FailedToParse,
			"'cursor.%s' field contains an invalid array: %s", batchField, err)
	}

	documents := make([]bson.Raw, 0, len(values))
	for _, v := range values {
		doc, ok := v.DocumentOK()
		if !ok {
			return nil, errcode.Newf(errcode.FailedToParse,
				"found non-object %s in 'cursor.%s' field", v, batchField)
		}
		documents = append(documents, doc)
	}

	return &Batch{
		CursorID:  cursorID,
		Namespace: ns,
		Documents: documents,
	}, nil
}

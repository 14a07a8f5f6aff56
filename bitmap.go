package mailstore

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
)

// GetBitmap assembles the full bitmap of class from its blocks. A bitmap
// that was never written is empty.
func (s *Store) GetBitmap(ctx context.Context, accountID uint32, collection uint8, class BitmapClass) (*roaring.Bitmap, error) {
	prefix := BitmapKey[BitmapClass]{AccountID: accountID, Collection: collection, Class: class}.Prefix()
	result := roaring.New()
	err := s.Iterate(ctx, PrefixParams(prefix), func(k, v []byte) (bool, error) {
		// A RawBitmap payload is not self-delimiting, so a longer payload
		// sharing this prefix may show up here.
		if len(k) != len(prefix)+4 {
			return true, nil
		}
		var block Bitmap
		if err := block.Deserialize(v); err != nil {
			return false, err
		}
		result.Or(block.Bitmap)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DocumentIDs returns the live documents of a collection.
func (s *Store) DocumentIDs(ctx context.Context, accountID uint32, collection uint8) (*roaring.Bitmap, error) {
	return s.GetBitmap(ctx, accountID, collection, DocumentIDs{})
}

// HasBlob reports whether a reservation or link record for hash exists.
func (s *Store) HasBlob(ctx context.Context, hash BlobHash, class BlobClass) (bool, error) {
	v, err := s.Get(ctx, class.blobKey(hash))
	return v != nil, err
}

// GetCounter returns the value of a counter, zero if never written.
func (s *Store) GetCounter(ctx context.Context, accountID uint32, collection uint8, documentID uint32, field uint8) (int64, error) {
	v, _, err := GetValue[Int64](ctx, s, ValueKey[Counter]{AccountID: accountID, Collection: collection, DocumentID: documentID, Class: Counter(field)})
	return int64(v), err
}

package mailstore

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// BlobHash is the BLAKE3 digest of a blob's content. Equal content always
// yields an equal hash, which is what makes blobs deduplicate.
type BlobHash [blobHashLen]byte

// HashBlob computes the content hash of data.
func HashBlob(data []byte) BlobHash {
	return BlobHash(blake3.Sum256(data))
}

func (h BlobHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h BlobHash) IsZero() bool {
	return h == BlobHash{}
}

// Key returns the key under which blob stores keep this content.
func (h BlobHash) Key() []byte {
	return []byte(h.String())
}

func (h BlobHash) Serialize() []byte {
	return append([]byte(nil), h[:]...)
}

func (h *BlobHash) Deserialize(data []byte) error {
	if len(data) != blobHashLen {
		return dataErrf(data, 0, nil, "blob hash must be %d bytes", blobHashLen)
	}
	copy(h[:], data)
	return nil
}

func ParseBlobHash(s string) (BlobHash, error) {
	var h BlobHash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, dataErrf([]byte(s), 0, err, "invalid blob hash")
	}
	return h, h.Deserialize(raw)
}

// BlobClass is the lifecycle state of a blob reference: Reserved (uploaded,
// not attached) or Linked (attached to a document).
type BlobClass interface {
	blobKey(hash BlobHash) BlobKey
}

type Reserved struct {
	AccountID uint32
}

type Linked struct {
	AccountID  uint32
	Collection uint8
	DocumentID uint32
}

func (c Reserved) blobKey(hash BlobHash) BlobKey {
	return BlobKey{AccountID: c.AccountID, Hash: hash, Op: BlobOpReserve}
}

func (c Linked) blobKey(hash BlobHash) BlobKey {
	return BlobKey{AccountID: c.AccountID, Collection: c.Collection, DocumentID: c.DocumentID, Hash: hash, Op: BlobOpLink}
}

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"canvas-sync/internal/app"
	"canvas-sync/internal/blob"
	"canvas-sync/internal/notes"
)

// Collection and bucket names.
const (
	notesCollection  = "stickyNotes"
	inlineCollection = "pdfs_inline"
	gridFSBucket     = "pdfs"
)

// Mongo keeps notes and inline blobs in collections and chunked blobs in
// a GridFS bucket. Every document carries its scope.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	bucket *mongo.GridFSBucket
	log    *slog.Logger
}

func NewMongo(ctx context.Context, cfg app.Config, log *slog.Logger) (*Mongo, error) {
	opts := options.Client().ApplyURI(cfg.MongoURL)
	if cfg.PGMaxConn > 0 {
		opts.SetMaxPoolSize(uint64(cfg.PGMaxConn))
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(cfg.MongoDB)
	return &Mongo{
		client: client,
		db:     db,
		bucket: db.GridFSBucket(options.GridFSBucket().SetName(gridFSBucket)),
		log:    log,
	}, nil
}

func (m *Mongo) Close(ctx context.Context) error { return m.client.Disconnect(ctx) }

func (m *Mongo) Ping(ctx context.Context) error { return m.client.Ping(ctx, nil) }

// EnsureIndexes creates the lookup indexes; safe to run on every start.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		inlineCollection: {
			{
				Keys:    bson.D{{Key: "scope", Value: 1}, {Key: "fileId", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		gridFSBucket + ".files": {
			// one file per scope and id; concurrent uploads race on this
			{
				Keys:    bson.D{{Key: "metadata.scope", Value: 1}, {Key: "filename", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
	for name, idx := range indexes {
		if _, err := m.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("mongo indexes for %s: %w", name, err)
		}
		m.log.Info("migration.applied", "collection", name)
	}
	return nil
}

type noteDocument struct {
	Scope string       `bson:"_id"`
	Data  []notes.Note `bson:"data"`
}

func (m *Mongo) LoadNotes(ctx context.Context, scope string) ([]notes.Note, error) {
	var doc noteDocument
	err := m.db.Collection(notesCollection).FindOne(ctx, bson.D{{Key: "_id", Value: scope}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []notes.Note{}, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Data == nil {
		doc.Data = []notes.Note{}
	}
	return doc.Data, nil
}

func (m *Mongo) SaveNotes(ctx context.Context, scope string, ns []notes.Note) error {
	if ns == nil {
		ns = []notes.Note{}
	}
	_, err := m.db.Collection(notesCollection).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: scope}},
		noteDocument{Scope: scope, Data: ns},
		options.Replace().SetUpsert(true),
	)
	return err
}

type inlineDocument struct {
	Scope  string `bson:"scope"`
	FileID string `bson:"fileId"`
	Data   []byte `bson:"data"`
	Size   int64  `bson:"size"`
}

func inlineFilter(scope, id string) bson.D {
	return bson.D{{Key: "scope", Value: scope}, {Key: "fileId", Value: id}}
}

func (m *Mongo) PutInline(ctx context.Context, scope, id string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := m.db.Collection(inlineCollection).InsertOne(ctx, inlineDocument{
		Scope: scope, FileID: id, Data: data, Size: int64(len(data)),
	})
	if mongo.IsDuplicateKeyError(err) {
		return blob.ErrExists
	}
	return err
}

func (m *Mongo) GetInline(ctx context.Context, scope, id string) ([]byte, error) {
	var doc inlineDocument
	err := m.db.Collection(inlineCollection).FindOne(ctx, inlineFilter(scope, id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, blob.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.Data == nil {
		doc.Data = []byte{}
	}
	return doc.Data, nil
}

func (m *Mongo) HasInline(ctx context.Context, scope, id string) (bool, error) {
	n, err := m.db.Collection(inlineCollection).CountDocuments(ctx, inlineFilter(scope, id), options.Count().SetLimit(1))
	return n > 0, err
}

func (m *Mongo) InlineIDs(ctx context.Context, scope string) ([]string, error) {
	cur, err := m.db.Collection(inlineCollection).Find(ctx,
		bson.D{{Key: "scope", Value: scope}},
		options.Find().SetProjection(bson.D{{Key: "fileId", Value: 1}}).SetSort(bson.D{{Key: "fileId", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []inlineDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.FileID)
	}
	return out, nil
}

// Chunked tier: GridFS files named by file id, scoped by metadata.

type gridFile struct {
	ID       bson.ObjectID `bson:"_id"`
	Filename string        `bson:"filename"`
	Length   int64         `bson:"length"`
}

func gridFilter(scope, id string) bson.D {
	return bson.D{{Key: "filename", Value: id}, {Key: "metadata.scope", Value: scope}}
}

// PutChunked streams r into GridFS. The files document is written after
// the chunks, so a losing concurrent upload fails on the unique index and
// its chunks are removed here.
func (m *Mongo) PutChunked(ctx context.Context, scope, id string, r io.Reader, _ int64) error {
	if ok, err := m.HasChunked(ctx, scope, id); err != nil {
		return err
	} else if ok {
		return blob.ErrExists
	}
	opts := options.GridFSUpload().
		SetChunkSizeBytes(blob.ChunkSize).
		SetMetadata(bson.D{{Key: "scope", Value: scope}})
	fileID := bson.NewObjectID()
	err := m.bucket.UploadFromStreamWithID(ctx, fileID, id, r, opts)
	if mongo.IsDuplicateKeyError(err) {
		if _, derr := m.db.Collection(gridFSBucket+".chunks").DeleteMany(ctx, bson.D{{Key: "files_id", Value: fileID}}); derr != nil {
			m.log.Warn("blob.gridfs.orphan", "scope", scope, "id", id, "file", fileID.Hex(), "err", derr)
		}
		return blob.ErrExists
	}
	if err != nil {
		return err
	}
	m.log.Info("blob.gridfs.stored", "scope", scope, "id", id, "file", fileID.Hex())
	return nil
}

func (m *Mongo) findFile(ctx context.Context, scope, id string) (gridFile, error) {
	cur, err := m.bucket.Find(ctx, gridFilter(scope, id))
	if err != nil {
		return gridFile{}, err
	}
	defer cur.Close(ctx)
	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return gridFile{}, err
		}
		return gridFile{}, blob.ErrNotFound
	}
	var f gridFile
	if err := cur.Decode(&f); err != nil {
		return gridFile{}, err
	}
	return f, nil
}

func (m *Mongo) OpenChunked(ctx context.Context, scope, id string) (io.ReadCloser, int64, error) {
	f, err := m.findFile(ctx, scope, id)
	if err != nil {
		return nil, 0, err
	}
	stream, err := m.bucket.OpenDownloadStream(ctx, f.ID)
	if errors.Is(err, mongo.ErrFileNotFound) {
		return nil, 0, blob.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return stream, f.Length, nil
}

func (m *Mongo) HasChunked(ctx context.Context, scope, id string) (bool, error) {
	_, err := m.findFile(ctx, scope, id)
	if errors.Is(err, blob.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *Mongo) ChunkedIDs(ctx context.Context, scope string) ([]string, error) {
	cur, err := m.bucket.Find(ctx, bson.D{{Key: "metadata.scope", Value: scope}})
	if err != nil {
		return nil, err
	}
	var files []gridFile
	if err := cur.All(ctx, &files); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Filename)
	}
	return out, nil
}

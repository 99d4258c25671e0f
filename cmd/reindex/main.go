// Command reindex rebuilds the event index from the artifacts on disk.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dwellwatch/internal/app"
	"dwellwatch/internal/config"
	"dwellwatch/internal/model"
	"dwellwatch/internal/repository"
	"dwellwatch/internal/service/storage"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	eventsDir := flag.String("events", envOr("EVENT_DIR", "saved_images"), "Directory containing event artifacts")
	store := flag.String("store", envOr("EVENT_STORE", config.StoreSQLite), "Event store: sqlite or postgres")
	dbPath := flag.String("db", envOr("DB_PATH", "data/events.db"), "SQLite database path")
	pgURL := flag.String("pg", os.Getenv("POSTGRES_URL"), "Postgres connection URL")
	flag.Parse()

	cfg := &config.Config{
		EventStore:   *store,
		DatabasePath: *dbPath,
		PostgresURL:  *pgURL,
	}

	fmt.Printf("Reindexing events from %s into %s store\n", *eventsDir, *store)

	repo, err := app.OpenRepository(cfg)
	if err != nil {
		log.Fatalf("Failed to open event store: %v", err)
	}
	defer repo.Close()

	added, skipped, err := reindex(context.Background(), repo, *eventsDir, time.Local)
	if err != nil {
		log.Fatalf("Reindex failed: %v", err)
	}
	fmt.Printf("✅ Indexed %d events (%d skipped)\n", added, skipped)
}

// reindex walks root for event snapshots and inserts every one the index
// does not know yet.
func reindex(ctx context.Context, repo repository.EventRepository, root string, loc *time.Location) (added, skipped int, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || filepath.Ext(path) != ".jpg" {
			return nil
		}

		ev, err := eventFromArtifact(path, loc)
		if err != nil {
			log.Printf("⚠️  Skipping %s: %v", path, err)
			skipped++
			return nil
		}

		exists, err := repo.ExistsByImagePath(ctx, ev.ImagePath)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", path, err)
		}
		if exists {
			return nil
		}

		if err := repo.Insert(ctx, ev); err != nil {
			log.Printf("⚠️  Failed to insert %s: %v", path, err)
			skipped++
			return nil
		}
		added++
		return nil
	})
	return added, skipped, err
}

// eventFromArtifact rebuilds an index record from a snapshot and the label
// file next to it. A missing label leaves the box empty.
func eventFromArtifact(path string, loc *time.Location) (*model.Event, error) {
	art, err := storage.ParseArtifactName(path, loc)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	ev := &model.Event{
		ID:        uuid.NewString(),
		CameraID:  art.CameraID,
		Type:      art.Type,
		TrackID:   art.TrackID,
		Timestamp: art.Timestamp,
		ImagePath: path,
		FileSize:  info.Size(),
	}

	labelPath := strings.TrimSuffix(path, ".jpg") + ".txt"
	classID, box, err := readLabel(labelPath, width, height)
	switch {
	case err == nil:
		ev.LabelPath = labelPath
		ev.ClassID = classID
		ev.X1, ev.Y1, ev.X2, ev.Y2 = box.Min.X, box.Min.Y, box.Max.X, box.Max.Y
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("label: %w", err)
	}
	return ev, nil
}

func readLabel(path string, width, height int) (int, image.Rectangle, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, image.Rectangle{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return 0, image.Rectangle{}, err
		}
		return 0, image.Rectangle{}, errors.New("empty label file")
	}
	return storage.ParseLabelLine(sc.Text(), width, height)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

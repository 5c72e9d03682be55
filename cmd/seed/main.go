package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/unit-linkage/app/config"
	"github.com/unit-linkage/app/models"
	"github.com/unit-linkage/internal/normalizer"
	"github.com/unit-linkage/internal/search"
	"github.com/unit-linkage/internal/store"
)

// seedRecord is the wire shape of one NDJSON line. Identifier fields decode
// through RawMessage so numeric values can be refused instead of silently
// rendered through float64.
type seedRecord struct {
	UnitID         json.RawMessage `json:"unit_id"`
	Name           string          `json:"name"`
	CreditCode     json.RawMessage `json:"credit_code"`
	Address        string          `json:"address"`
	LegalRep       string          `json:"legal_rep"`
	SafetyManager  string          `json:"safety_manager"`
	ContactPhone   string          `json:"contact_phone"`
	BuildingID     json.RawMessage `json:"building_id"`
	InspectionTime string          `json:"inspection_time"`
}

func main() {
	var (
		filePath  = flag.String("file", "", "đường dẫn file NDJSON")
		sourceArg = flag.String("source", "", "nguồn dữ liệu: primary | secondary")
		mongoURL  = flag.String("mongo", "mongodb://localhost:27017", "MongoDB URL")
		dbName    = flag.String("db", "unit_linkage", "tên database")
		meiliURL  = flag.String("meili-url", "http://localhost:7700", "Meilisearch URL")
		meiliKey  = flag.String("meili-key", "", "Meilisearch master key")
		batchSize = flag.Int("batch", 1000, "số record mỗi batch")
	)
	flag.Parse()

	if *filePath == "" {
		log.Fatal("Thiếu -file")
	}
	source := models.SourceKind(*sourceArg)
	if source != models.SourcePrimary && source != models.SourceSecondary {
		log.Fatal("Source phải là primary hoặc secondary")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal("Không thể khởi tạo logger:", err)
	}
	defer logger.Sync()

	// MongoDB connection
	mongoClient, err := mongo.Connect(context.TODO(), options.Client().ApplyURI(*mongoURL))
	if err != nil {
		log.Fatal("Không thể kết nối MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.TODO())

	unitStore, err := store.NewUnitStore(mongoClient.Database(*dbName), logger)
	if err != nil {
		log.Fatal("Không thể khởi tạo unit store:", err)
	}

	// Meilisearch connection: chỉ secondary được index cho text search.
	var searcher *search.UnitSearcher
	if source == models.SourceSecondary && *meiliURL != "" {
		searcher, err = search.NewUnitSearcher(search.SearchConfig{
			Host:      *meiliURL,
			APIKey:    *meiliKey,
			IndexName: "linkage_units",
			Timeout:   30 * time.Second,
		}, logger)
		if err != nil {
			log.Fatal("Không thể kết nối Meilisearch:", err)
		}
		if err := searcher.BuildIndexes(); err != nil {
			log.Fatal("Lỗi cấu hình Meilisearch index:", err)
		}
	}

	tn := normalizer.NewTextNormalizerWithRules(config.Defaults().NormalizerRules())

	file, err := os.Open(*filePath)
	if err != nil {
		log.Fatal("Không thể mở file:", err)
	}
	defer file.Close()

	fmt.Printf("Đang seed dữ liệu %s từ %s...\n", source, *filePath)

	var (
		units          []*models.Unit
		totalProcessed int
		totalRejected  int
		lineNo         int
	)

	flush := func() {
		if len(units) == 0 {
			return
		}
		report, err := unitStore.UpsertUnits(context.TODO(), source, units)
		if err != nil {
			log.Fatal("Lỗi upsert batch:", err)
		}
		if searcher != nil {
			if err := searcher.SeedUnits(units); err != nil {
				log.Printf("Lỗi seed Meilisearch batch: %v", err)
			}
		}
		totalProcessed += len(units)
		fmt.Printf("Đã xử lý %d records (inserted=%d modified=%d)...\n",
			totalProcessed, report.Inserted, report.Modified)
		units = units[:0]
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		unit, err := decodeUnit(line)
		if err != nil {
			fmt.Printf("Dòng %d bị từ chối: %v\n", lineNo, err)
			totalRejected++
			continue
		}

		tn.NormalizeUnit(unit)
		units = append(units, unit)

		if len(units) >= *batchSize {
			flush()
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatal("Lỗi đọc file:", err)
	}
	flush()

	fmt.Printf("Hoàn thành! Seed %d records, từ chối %d records\n", totalProcessed, totalRejected)
}

// decodeUnit parses one NDJSON line into a Unit. Identifier fields must be
// JSON strings: a numeric unit_id or credit_code has already been corrupted
// upstream, so the line is rejected rather than repaired.
func decodeUnit(line []byte) (*models.Unit, error) {
	var rec seedRecord
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	unitID, err := requireString("unit_id", rec.UnitID)
	if err != nil {
		return nil, err
	}
	if unitID == "" {
		return nil, fmt.Errorf("unit_id rỗng")
	}
	creditCode, err := optionalString("credit_code", rec.CreditCode)
	if err != nil {
		return nil, err
	}
	buildingID, err := optionalString("building_id", rec.BuildingID)
	if err != nil {
		return nil, err
	}

	unit := &models.Unit{
		UnitID:        unitID,
		Name:          rec.Name,
		CreditCode:    creditCode,
		Address:       rec.Address,
		LegalRep:      rec.LegalRep,
		SafetyManager: rec.SafetyManager,
		ContactPhone:  rec.ContactPhone,
		BuildingID:    buildingID,
	}
	if rec.InspectionTime != "" {
		t, err := time.Parse(time.RFC3339, rec.InspectionTime)
		if err != nil {
			return nil, fmt.Errorf("inspection_time không hợp lệ: %w", err)
		}
		unit.InspectionTime = &t
	}
	return unit, nil
}

// requireString decodes a RawMessage that must be a JSON string.
func requireString(field string, raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("thiếu trường %s", field)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("trường %s phải là chuỗi, nhận %q", field, string(raw))
	}
	return s, nil
}

// optionalString decodes a RawMessage that may be absent or null but must
// otherwise be a JSON string.
func optionalString(field string, raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("trường %s phải là chuỗi, nhận %q", field, string(raw))
	}
	return s, nil
}

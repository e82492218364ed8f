package articles

import "github.com/hitoshi/articles/internal/model"

// fieldHashesOf returns the idHash of every article, in order.
func fieldHashesOf(articles []model.Article) []string {
	hashes := make([]string, len(articles))
	for i, a := range articles {
		hashes[i] = a.IdHash()
	}
	return hashes
}

// idRowsFor builds the "id" StoredFieldRow for each article.
func idRowsFor(feedID model.FeedId, articles []model.Article) []model.StoredFieldRow {
	rows := make([]model.StoredFieldRow, len(articles))
	for i, a := range articles {
		rows[i] = model.StoredFieldRow{FeedId: feedID, FieldName: "id", FieldHashedValue: a.IdHash()}
	}
	return rows
}

// comparisonFieldRowsFor builds one StoredFieldRow per (article, field) pair
// for the given comparison field names, hashing each article's flattened
// value for that field. Articles lacking the field are skipped.
func comparisonFieldRowsFor(feedID model.FeedId, articles []model.Article, fieldNames []string) []model.StoredFieldRow {
	var rows []model.StoredFieldRow
	for _, name := range fieldNames {
		for _, a := range articles {
			v, ok := a.Flattened[name]
			if !ok {
				continue
			}
			s, ok := v.(string)
			if !ok || s == "" {
				continue
			}
			rows = append(rows, model.StoredFieldRow{
				FeedId:           feedID,
				FieldName:        name,
				FieldHashedValue: model.Sha1Hex(s),
			})
		}
	}
	return rows
}

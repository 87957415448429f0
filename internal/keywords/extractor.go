package keywords

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
)

// Table holds the clinical vocabulary and suffix lists the extractor
// matches against. Lists are externalized so deployments can extend
// them without a rebuild; DefaultTable is what ships in the binary.
type Table struct {
	Vocabulary []string `json:"vocabulary"`
	Suffixes   []string `json:"suffixes"`
}

// DefaultTable returns the built-in clinical term table.
func DefaultTable() Table {
	return Table{
		Vocabulary: []string{
			"allergy", "anemia", "antibiotic", "anxiety", "arrhythmia",
			"asthma", "biopsy", "blood pressure", "blood sugar", "cancer",
			"chest pain", "cholesterol", "chronic", "cough", "covid",
			"depression", "diabetes", "diagnosis", "dizziness", "dosage",
			"ecg", "fatigue", "fever", "fracture", "headache",
			"heart rate", "hypertension", "infection", "inflammation",
			"insulin", "kidney", "liver", "medication", "migraine",
			"mri", "nausea", "pain", "pneumonia", "pregnancy",
			"prescription", "rash", "seizure", "shortness of breath",
			"side effect", "stroke", "surgery", "swelling", "symptom",
			"thyroid", "treatment", "ulcer", "vaccine", "x-ray",
		},
		Suffixes: []string{
			"algia", "ectomy", "emia", "gram", "itis", "ology", "oma",
			"opathy", "osis", "ostomy", "plasty", "scopy",
		},
	}
}

// LoadTable reads a Table from a JSON file. An empty list falls back
// to the corresponding default list, so a table file may override only
// the vocabulary or only the suffixes.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("reading keyword table: %w", err)
	}
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parsing keyword table %s: %w", path, err)
	}
	def := DefaultTable()
	if len(t.Vocabulary) == 0 {
		t.Vocabulary = def.Vocabulary
	}
	if len(t.Suffixes) == 0 {
		t.Suffixes = def.Suffixes
	}
	return t, nil
}

// Extractor derives the keyword set of a piece of text. Extraction is
// deterministic and total: it never fails and has no side effects.
type Extractor struct {
	words    map[string]struct{}
	phrases  []string
	suffixes []string
}

// NewExtractor builds an Extractor from a Table. Single-word
// vocabulary entries go into a set for O(1) token lookup; multi-word
// entries are matched as substrings of the lowered input.
func NewExtractor(t Table) *Extractor {
	e := &Extractor{words: make(map[string]struct{})}
	for _, term := range t.Vocabulary {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, ' ') {
			e.phrases = append(e.phrases, term)
		} else {
			e.words[term] = struct{}{}
		}
	}
	for _, s := range t.Suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			e.suffixes = append(e.suffixes, s)
		}
	}
	return e
}

// Extract returns the deduplicated keyword set of text as a sorted
// slice. Empty input or no match yields an empty (nil) result.
func (e *Extractor) Extract(text string) []string {
	if text == "" {
		return nil
	}
	lowered := strings.ToLower(text)
	found := make(map[string]struct{})

	for _, p := range e.phrases {
		if strings.Contains(lowered, p) {
			found[p] = struct{}{}
		}
	}

	for _, tok := range tokenize(lowered) {
		if _, ok := e.words[tok]; ok {
			found[tok] = struct{}{}
			continue
		}
		for _, suf := range e.suffixes {
			// The token must extend the suffix; a bare suffix is not
			// a clinical term on its own.
			if len(tok) > len(suf) && strings.HasSuffix(tok, suf) {
				found[tok] = struct{}{}
				break
			}
		}
	}

	if len(found) == 0 {
		return nil
	}
	out := make([]string, 0, len(found))
	for k := range found {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func tokenize(lowered string) []string {
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Overlap returns how many of the query keywords appear in the turn's
// keyword set. Both slices come from Extract, so entries are unique.
func Overlap(query, turn []string) int {
	if len(query) == 0 || len(turn) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(turn))
	for _, k := range turn {
		set[k] = struct{}{}
	}
	n := 0
	for _, k := range query {
		if _, ok := set[k]; ok {
			n++
		}
	}
	return n
}

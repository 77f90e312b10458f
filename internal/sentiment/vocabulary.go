package sentiment

// Modifier and marker vocabularies. Keys are normalized tokens.

var negations = map[string]bool{
	"pas":    true,
	"ne":     true,
	"non":    true,
	"jamais": true,
	"aucun":  true,
	"aucune": true,
	"sans":   true,
	"ni":     true,
	"rien":   true,
	"not":    true,
	"no":     true,
	"never":  true,
}

var intensifiers = map[string]float64{
	"tres":             1.5,
	"vraiment":         1.3,
	"tellement":        1.4,
	"particulierement": 1.4,
	"fortement":        1.5,
	"hautement":        1.5,
	"totalement":       1.6,
	"extremement":      1.8,
	"absolument":       1.7,
	"profondement":     1.6,
	"very":             1.5,
	"extremely":        1.8,
}

var attenuators = map[string]float64{
	"peu":           0.5,
	"legerement":    0.6,
	"plutot":        0.8,
	"assez":         0.9,
	"relativement":  0.7,
	"moderement":    0.6,
	"partiellement": 0.5,
	"guere":         0.4,
	"quelque":       0.8,
	"slightly":      0.6,
}

var contrastMarkers = map[string]bool{
	"mais":      true,
	"cependant": true,
	"pourtant":  true,
	"toutefois": true,
	"neanmoins": true,
	"however":   true,
	"but":       true,
}

// ironyPhrases are token sequences that usually flag a sarcastic reading of
// the positive words around them.
var ironyPhrases = [][]string{
	{"bien", "sur"},
	{"comme", "par", "hasard"},
	{"quelle", "surprise"},
	{"evidemment"},
	{"bravo"},
}

var stopWords = map[string]bool{
	"dans": true, "avec": true, "pour": true, "sont": true, "cette": true,
	"leurs": true, "leur": true, "entre": true, "plus": true, "tous": true,
	"toutes": true, "tout": true, "toute": true, "comme": true, "apres": true,
	"avant": true, "depuis": true, "sous": true, "selon": true, "chez": true,
	"aussi": true, "encore": true, "elle": true, "elles": true, "nous": true,
	"vous": true, "etre": true, "avoir": true, "fait": true, "faire": true,
	"etait": true, "sera": true, "quand": true, "alors": true, "donc": true,
	"ainsi": true, "dont": true, "celui": true, "celle": true, "ceux": true,
	"notre": true, "votre": true, "meme": true, "autre": true, "autres": true,
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"been": true, "were": true, "will": true, "their": true, "about": true,
	"which": true, "there": true, "what": true, "when": true, "more": true,
	"than": true, "them": true, "they": true, "into": true, "also": true,
	"after": true, "over": true, "said": true,
}

// isFunctionWord reports whether w carries grammar rather than polarity.
func isFunctionWord(w string) bool {
	if negations[w] || contrastMarkers[w] || stopWords[w] {
		return true
	}
	if _, ok := intensifiers[w]; ok {
		return true
	}
	_, ok := attenuators[w]
	return ok
}

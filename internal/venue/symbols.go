package venue

import "github.com/priceverse/priceverse/internal/domain"

// SymbolMap is a venue's fixed mapping from canonical pair to its native
// symbol string, with a reverse lookup. A pair absent from the map means the
// venue does not contribute to that pair.
type SymbolMap struct {
	forward map[domain.Pair]string
	reverse map[string]domain.Pair
	pairs   []domain.Pair
}

// NewSymbolMap builds a SymbolMap from pair→symbol entries. Iteration order
// of Pairs follows the base pair order, so subscribe payloads are stable.
func NewSymbolMap(entries map[domain.Pair]string) SymbolMap {
	sm := SymbolMap{
		forward: make(map[domain.Pair]string, len(entries)),
		reverse: make(map[string]domain.Pair, len(entries)),
	}
	for _, pair := range domain.BasePairs() {
		symbol, ok := entries[pair]
		if !ok {
			continue
		}
		sm.forward[pair] = symbol
		sm.reverse[symbol] = pair
		sm.pairs = append(sm.pairs, pair)
	}
	return sm
}

// SymbolFor returns the venue symbol for a pair.
func (sm SymbolMap) SymbolFor(pair domain.Pair) (string, bool) {
	s, ok := sm.forward[pair]
	return s, ok
}

// PairFor returns the canonical pair for a venue symbol.
func (sm SymbolMap) PairFor(symbol string) (domain.Pair, bool) {
	p, ok := sm.reverse[symbol]
	return p, ok
}

// Pairs lists the pairs this venue contributes to, in stable order.
func (sm SymbolMap) Pairs() []domain.Pair {
	return sm.pairs
}

// Symbols lists the venue symbols in the same order as Pairs.
func (sm SymbolMap) Symbols() []string {
	out := make([]string, 0, len(sm.pairs))
	for _, p := range sm.pairs {
		out = append(out, sm.forward[p])
	}
	return out
}

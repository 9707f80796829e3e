package ldapsvc

import (
	"strings"

	"github.com/dmguessant/xchangeldap/pkg/ber"
)

// ParseFilter reads an LDAP filter at d's cursor and translates it into a
// map of Exchange-code → search value. Only the filter shapes common mail
// clients actually send are understood; everything else is dropped. This
// function does no logging (so it stays side-effect free and easy to
// test); the dispatcher logs a warning when a filter yields no criteria at
// all, but not when only some parts of a filter are dropped.
//
// Recognized shapes:
//   - (objectClass=*)                         → {"objectclass": "*"}
//   - (attr=prefix*)                          → substrings filter, single criterion
//   - (|(attr1=prefix1*)(attr2=prefix2*)...)  → OR of substrings filters
func ParseFilter(d *ber.Decoder, utf8 bool) (map[string]string, error) {
	criteria := map[string]string{}

	peek, err := d.PeekByte()
	if err != nil {
		return nil, err
	}
	if peek == FilterPresent {
		attr, err := d.ParseStringWithTag(FilterPresent, utf8)
		if err != nil {
			return nil, err
		}
		attr = strings.ToLower(attr)
		if attr == "objectclass" {
			criteria[attr] = "*"
		}
		return criteria, nil
	}

	var seqLen int
	filterType, err := d.ParseSeq(&seqLen)
	if err != nil {
		return nil, err
	}
	end := d.GetParsePosition() + seqLen

	switch filterType {
	case FilterOr:
		for d.GetParsePosition() < end && d.BytesLeft() > 0 {
			op, err := d.ParseSeq(nil)
			if err != nil {
				return nil, err
			}
			if op == FilterSubstrings {
				if err := parseSimpleFilter(d, utf8, criteria); err != nil {
					return nil, err
				}
			}
		}
	case FilterSubstrings:
		if err := parseSimpleFilter(d, utf8, criteria); err != nil {
			return nil, err
		}
	}
	// AND, NOT, GE, LE, APPROX, EQUALITY and any other shape are
	// unsupported and simply yield no criteria.
	return criteria, nil
}

// parseSimpleFilter reads one SUBSTRINGS filter component: attribute name,
// then the inner substrings SEQUENCE, using only the first substring
// element's value (any of INITIAL/ANY/FINAL) as the search prefix.
func parseSimpleFilter(d *ber.Decoder, utf8 bool, criteria map[string]string) error {
	attr, err := d.ParseString(utf8)
	if err != nil {
		return err
	}
	attr = strings.ToLower(attr)

	if _, err := d.ParseSeq(nil); err != nil {
		return err
	}
	mode, err := d.PeekByte()
	if err != nil {
		return err
	}
	value, err := d.ParseStringWithTag(mode, utf8)
	if err != nil {
		return err
	}

	if code, ok := CriteriaMap[attr]; ok {
		criteria[code] = value
	}
	return nil
}

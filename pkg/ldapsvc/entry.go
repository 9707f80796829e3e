package ldapsvc

import (
	"fmt"

	"github.com/dmguessant/xchangeldap/pkg/ber"
	"github.com/dmguessant/xchangeldap/pkg/exchange"
)

// entryValue is either a single string or a list of strings — the only two
// shapes sendEntry accepts. Anything else is a programming error, caught
// with a panic rather than threaded through as an error since it can only
// happen if this package itself builds a bad attribute map.
type entryValue interface{}

// ProjectPerson turns a GAL record into the LDAP attribute map the entry
// serializer emits, via AttributeMap. Absent Exchange codes are omitted.
func ProjectPerson(p exchange.Person) map[string]entryValue {
	out := make(map[string]entryValue, len(AttributeMap))
	for ldapAttr, code := range AttributeMap {
		if v, ok := p[code]; ok && v != "" {
			out[ldapAttr] = v
		}
	}
	return out
}

// encodeEntry resets enc and writes one LDAP_REP_SEARCH message for (dn,
// attributes), following the exact SEQUENCE{ messageID, [APPLICATION
// 4]{ dn, SEQUENCE OF SEQUENCE{ attrName, SET OF value } } } shape.
func encodeEntry(enc *ber.Encoder, messageID int, dn string, attributes map[string]entryValue, utf8 bool) {
	enc.Reset()
	enc.BeginSeq(ber.TagSequenceOf)
	enc.EncodeInt(messageID)
	enc.BeginSeq(RepSearch)
	enc.EncodeString(dn, utf8)
	enc.BeginSeq(ber.TagSequenceOf)
	for name, value := range attributes {
		enc.BeginSeq(ber.TagSequenceOf)
		enc.EncodeString(name, utf8)
		enc.BeginSeq(ber.ClassUniversal | ber.FlagConstructed | ber.TagSet)
		switch v := value.(type) {
		case string:
			enc.EncodeString(v, utf8)
		case []string:
			for _, s := range v {
				enc.EncodeString(s, utf8)
			}
		default:
			panic(fmt.Sprintf("ldapsvc: unsupported attribute value type %T", v))
		}
		enc.EndSeq()
		enc.EndSeq()
	}
	enc.EndSeq()
	enc.EndSeq()
	enc.EndSeq()
}

// encodeResult resets enc and writes a LDAP_REP_BIND or LDAP_REP_RESULT message: a
// status enumeration, an (always empty in this gateway) matched DN, and an
// error/diagnostic message string.
func encodeResult(enc *ber.Encoder, messageID, operation, status int, message string, utf8 bool) {
	enc.Reset()
	enc.BeginSeq(ber.TagSequenceOf)
	enc.EncodeInt(messageID)
	enc.BeginSeq(byte(operation))
	enc.EncodeEnum(status)
	enc.EncodeString("", utf8)
	enc.EncodeString(message, utf8)
	enc.EndSeq()
	enc.EndSeq()
}

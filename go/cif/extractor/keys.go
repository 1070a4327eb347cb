package extractor

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.skia.org/cif/go/cif/types"
)

// keyRule derives the fragment keys of one fragment. Rules are registered
// per source in keyRules and evaluated in order, so adding key coverage for
// a new source is a table change rather than new code.
type keyRule interface {
	keys(artifact *types.Artifact, fragment *types.Fragment) []*types.FragmentKey
}

var (
	adaCodeUpperRe = regexp.MustCompile(`D\d{4}`)
	adaCodeLowerRe = regexp.MustCompile(`d\d{4}`)
	drCodeRe       = regexp.MustCompile(`^DR_\d{2}_\d{2}`)
)

// adaCodesFromFilename emits an ADA_CODE key for every distinct lowercase
// dental procedure code in the fragment text that falls inside the code
// range spelled out in the artifact's filename, e.g. "D2710_D2792.html".
// Filenames without codes yield no keys.
type adaCodesFromFilename struct{}

func (adaCodesFromFilename) keys(artifact *types.Artifact, fragment *types.Fragment) []*types.FragmentKey {
	codes := adaCodeUpperRe.FindAllString(artifact.ExternalID, -1)
	if len(codes) == 0 {
		return nil
	}
	sort.Strings(codes)
	min, _ := strconv.Atoi(codes[0][1:])
	max, _ := strconv.Atoi(codes[len(codes)-1][1:])
	seen := map[string]bool{}
	ret := []*types.FragmentKey{}
	for _, code := range adaCodeLowerRe.FindAllString(fragment.TextContent, -1) {
		if seen[code] {
			continue
		}
		seen[code] = true
		n, _ := strconv.Atoi(code[1:])
		if n < min || n > max {
			continue
		}
		ret = append(ret, newKey(artifact, fragment, "ADA_CODE", strings.ToUpper(code)))
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Value < ret[j].Value })
	return ret
}

// drCodeFromFilename emits a single DR_CODE key from the artifact's
// filename: the leading DR_NN_NN code when the name starts with one,
// otherwise the whole filename with ".html" removed.
type drCodeFromFilename struct{}

func (drCodeFromFilename) keys(artifact *types.Artifact, fragment *types.Fragment) []*types.FragmentKey {
	parts := strings.Split(artifact.ExternalID, "/")
	basename := strings.ReplaceAll(parts[len(parts)-1], ".html", "")
	value := basename
	if m := drCodeRe.FindString(basename); m != "" {
		value = m
	}
	return []*types.FragmentKey{newKey(artifact, fragment, "DR_CODE", value)}
}

// jsonField lifts one json_content field into a key, renaming it. Fragments
// without the field yield no key.
type jsonField struct {
	key   string
	field string
}

func (r jsonField) keys(artifact *types.Artifact, fragment *types.Fragment) []*types.FragmentKey {
	value, ok := fragment.JSONContent[r.field]
	if !ok {
		return nil
	}
	return []*types.FragmentKey{newKey(artifact, fragment, r.key, value)}
}

func newKey(artifact *types.Artifact, fragment *types.Fragment, key, value string) *types.FragmentKey {
	return &types.FragmentKey{
		SourceID:   artifact.SourceID,
		ArtifactID: artifact.ArtifactID,
		FragmentID: fragment.FragmentID,
		SeqNo:      fragment.SeqNo,
		Key:        key,
		Value:      value,
	}
}

// keyRules maps source ids to the rules that derive their fragment keys.
// Sources not listed here produce no keys.
var keyRules = map[string][]keyRule{
	// Dental procedure policies, one document per ADA code range.
	"8eb156a290f14963a36a86ec6c5259d0": {adaCodesFromFilename{}},
	// Dental review guidelines, one document per DR code.
	"738ad2d781e3483cab3c55256ee0ac9b": {drCodeFromFilename{}},
	// Procedure detail exports.
	"05814440726642c9b4f9f3f92aa9a5bf": {
		jsonField{key: "ADA_CODE", field: "ADA_CD"},
		jsonField{key: "PROCDTL_ID", field: "PROCDTL_ID"},
	},
	// Alternate benefit detail exports.
	"e673841c49d742a69515097bda1b4784": {
		jsonField{key: "ADA_CODE", field: "ADA_CD"},
		jsonField{key: "ALTBNFT_ID", field: "ALTBNFT_ID"},
	},
	// Alternate benefit header exports.
	"2a8f833fa363447ebb36a92315ce0e1a": {
		jsonField{key: "ALTBNFT_ID", field: "ALTBNFT_ID"},
	},
	// Payment schedule header exports.
	"ddc4d62f229244aa8888131f5e198f4c": {
		jsonField{key: "PAYSCHD_ID", field: "PAYSCHD_ID"},
	},
	// Plan deal detail exports.
	"bf2cac489fb6454ea3a8456823c75b19": {
		jsonField{key: "ADA_CODE", field: "ADA_CD"},
		jsonField{key: "PLNDEAL_ID", field: "PLNDEAL_ID"},
	},
	// Plan deal header exports.
	"c729a259374c4cccb72feacc73ce31f5": {
		jsonField{key: "PLNDEAL_ID", field: "PLNDEAL_ID"},
	},
	// Payment schedule detail exports.
	"0c1155c8ed334ebabea86b4fba0fbd01": {
		jsonField{key: "ADA_CODE", field: "ADA_CD"},
		jsonField{key: "PAYSCHD_ID", field: "PAYSCHD_ID"},
	},
	// ZP3 schedule header exports.
	"5054a5c59eaf42fb9fe4230804b1fd9b": {
		jsonField{key: "ZP3SCHD_ID", field: "ZP3SCHD_ID"},
	},
	// ZP3 schedule detail exports.
	"d5896a4b38c94028842c310aab98fc79": {
		jsonField{key: "ZP3SCHD_ID", field: "ZP3SCHD_ID"},
		jsonField{key: "PAYSCHD_ID", field: "PAYSCHD_ID"},
	},
}

// calcRuleKeys evaluates the key rules registered for the fragment's source,
// in registration order.
func calcRuleKeys(artifact *types.Artifact, fragment *types.Fragment) []*types.FragmentKey {
	ret := []*types.FragmentKey{}
	for _, rule := range keyRules[artifact.SourceID] {
		ret = append(ret, rule.keys(artifact, fragment)...)
	}
	return ret
}

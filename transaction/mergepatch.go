package transaction

import jsonpatch "github.com/evanphx/json-patch"

// mergePatch applies an RFC 7396 JSON Merge Patch over original, the
// semantics the patch(id, patch_value) operation requires.
func mergePatch(original, patch []byte) ([]byte, error) {
	return jsonpatch.MergePatch(original, patch)
}

package normalizer

// Default dictionaries for the normalization pipeline. Callers may extend or
// replace them through NormalizerRules; the defaults cover the registries the
// engine was built for.

// NormalizerRules cấu hình cho TextNormalizer.
type NormalizerRules struct {
	// AdminPrefixes is the ordered list of administrative-region prefixes
	// stripped greedily from the left, longest match first.
	AdminPrefixes []string `yaml:"admin_prefixes"`
	// OrgSuffixes is the ordered list of organizational-suffix tokens
	// stripped from the right, longest match first.
	OrgSuffixes []string `yaml:"org_suffixes"`
	// AddressStopWords are tokens excluded from address_keywords.
	AddressStopWords []string `yaml:"address_stop_words"`
}

// DefaultRules returns the built-in dictionaries.
func DefaultRules() NormalizerRules {
	return NormalizerRules{
		AdminPrefixes:    defaultAdminPrefixes(),
		OrgSuffixes:      defaultOrgSuffixes(),
		AddressStopWords: defaultAddressStopWords(),
	}
}

func defaultAdminPrefixes() []string {
	return []string{
		// Municipalities first, then their districts; longest-first ordering
		// is re-established at strip time, the list is data not priority.
		"上海市", "北京市", "天津市", "重庆市",
		"浦东新区", "黄浦区", "徐汇区", "长宁区", "静安区", "普陀区",
		"虹口区", "杨浦区", "闵行区", "宝山区", "嘉定区", "金山区",
		"松江区", "青浦区", "奉贤区", "崇明区",
		"江苏省", "浙江省", "安徽省", "广东省", "山东省", "四川省",
		"湖北省", "湖南省", "河南省", "河北省", "福建省", "江西省",
	}
}

func defaultOrgSuffixes() []string {
	return []string{
		"集团股份有限公司", "集团有限公司",
		"股份有限公司", "有限责任公司", "有限公司",
		"总公司", "分公司", "公司",
		"经营部", "门市部", "事务所", "合作社",
		"研究院", "研究所", "加工厂",
		"商行", "商店", "中心", "集团", "厂", "店",
	}
}

func defaultAddressStopWords() []string {
	return []string{
		"号楼", "单元", "附近", "对面", "隔壁", "旁边", "底层", "地下",
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultCategoryDocument is written on first start when no category file exists.
const DefaultCategoryDocument = `# Category rules
#
# Top level sections "movie" and "tv" are fixed. Each entry below them is a
# category; its name doubles as the library folder name. Categories are tried
# top to bottom and the first one whose conditions all hold wins. An entry
# without conditions matches everything, so keep the catch-all last.
#
# Conditions (comma separated values, any value may match):
#   genre_ids             TMDB genre ids, see the table at the end
#   original_language     ISO 639-1 language code
#   origin_country        ISO 3166-1 country code (tv)
#   production_countries  ISO 3166-1 country code (movie)
#   any other top level field of the TMDB detail response
#
# The optional "rules" list is checked before the metadata categories:
#   kind: extension  matches the item extension
#   kind: path       matches a regular expression against the item name

# movies
movie:
  中国动画电影:
    genre_ids: '16'
    original_language: 'zh,cn,bo,za'
  日韩动画电影:
    genre_ids: '16'
    original_language: 'ja,ko'
  欧美动画电影:
    genre_ids: '16'
  恐怖电影:
    genre_ids: '27'
  华语电影:
    original_language: 'zh,cn,bo,za'
  日韩电影:
    original_language: 'ja,ko'
  欧美电影:

# tv shows
tv:
  中国动漫:
    genre_ids: '16'
    origin_country: 'CN,TW,HK'
  儿童动漫:
    genre_ids: '10762'
  日韩动漫:
    genre_ids: '16'
    origin_country: 'JP,KR'
  欧美动漫:
    genre_ids: '16'
  中国纪录片:
    genre_ids: '99'
    original_language: 'zh,cn,bo,za'
  外国纪录片:
    genre_ids: '99'
  中国综艺:
    genre_ids: '10764,10767'
    original_language: 'zh,cn,bo,za'
  日韩综艺:
    genre_ids: '10764,10767'
    original_language: 'ja,ko'
  欧美综艺:
    genre_ids: '10764,10767'
  国产剧:
    origin_country: 'CN,TW,HK'
  日韩剧:
    original_language: 'ja,ko'
  欧美剧:

# heuristic rules
rules:
  - kind: extension
    extensions: '.iso'
    category: 原盘
  - kind: path
    pattern: '(?i)(纪录片|documentary)'
    media_type: tv
    category: 外国纪录片

## genre_ids
#	28	Action / 动作
#	12	Adventure / 冒险
#	16	Animation / 动画
#	35	Comedy / 喜剧
#	80	Crime / 犯罪
#	99	Documentary / 纪录
#	18	Drama / 剧情
#	10751	Family / 家庭
#	14	Fantasy / 奇幻
#	36	History / 历史
#	27	Horror / 恐怖
#	10402	Music / 音乐
#	9648	Mystery / 悬疑
#	10749	Romance / 爱情
#	878	Science Fiction / 科幻
#	10770	TV Movie / 电视电影
#	53	Thriller / 惊悚
#	10752	War / 战争
#	37	Western / 西部
#	10762	Kids / 儿童
#	10764	Reality / 真人秀
#	10767	Talk / 脱口秀

## original_language
#	zh	中文
#	cn	中文
#	en	英语
#	ja	日语
#	ko	朝鲜语/韩语
#	fr	法语
#	de	德语
#	es	西班牙语
#	it	意大利语
#	ru	俄语
#	pt	葡萄牙语
#	hi	印地语
#	ar	阿拉伯语
#	th	泰语
#	vi	越南语

## origin_country / production_countries
#	CN	中国内地
#	TW	中国台湾
#	HK	中国香港
#	JP	日本
#	KR	韩国
#	US	美国
#	GB	英国
#	FR	法国
#	DE	德国
#	IT	意大利
#	ES	西班牙
#	RU	俄罗斯
#	IN	印度
#	TH	泰国
#	VN	越南
`

// LoadCategoryDocument returns the category document text, seeding the file
// with the default document when it does not exist yet.
func LoadCategoryDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := SaveCategoryDocument(path, []byte(DefaultCategoryDocument)); err != nil {
		return nil, fmt.Errorf("seed category document: %w", err)
	}
	return []byte(DefaultCategoryDocument), nil
}

// SaveCategoryDocument writes the document atomically. Callers validate the
// content before saving.
func SaveCategoryDocument(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

package audit

// Each script is a self-invoking expression evaluated by value, so its
// result must be JSON-serializable.

const accessibilityScript = `(() => {
  const results = [];
  const imagesWithoutAlt = document.querySelectorAll('img:not([alt])').length;
  if (imagesWithoutAlt > 0) results.push('Found ' + imagesWithoutAlt + ' images without alt text');

  const unlabeled = Array.from(document.querySelectorAll('input:not([type=hidden])')).filter((el) => {
    if (el.getAttribute('aria-label') || el.getAttribute('aria-labelledby')) return false;
    if (el.closest('label')) return false;
    return !(el.id && document.querySelector('label[for="' + CSS.escape(el.id) + '"]'));
  }).length;
  if (unlabeled > 0) results.push('Found ' + unlabeled + ' inputs without proper labels');

  if (document.querySelectorAll('h1, h2, h3, h4, h5, h6').length === 0) {
    results.push('No heading structure found on page');
  }

  const lowContrast = Array.from(document.querySelectorAll('body *')).filter((el) => {
    const style = window.getComputedStyle(el);
    return style.color === 'rgb(128, 128, 128)' && style.backgroundColor === 'rgb(255, 255, 255)';
  }).length;
  if (lowContrast > 0) results.push('Found ' + lowContrast + ' potentially low contrast elements');

  if (!document.documentElement.getAttribute('lang')) results.push('Document has no lang attribute');
  return results;
})()`

const performanceScript = `(() => {
  const nav = performance.getEntriesByType('navigation')[0];
  const paint = performance.getEntriesByName('first-contentful-paint')[0];
  const mem = performance.memory;
  return {
    domContentLoaded: nav ? Math.round(nav.domContentLoadedEventEnd - nav.domContentLoadedEventStart) : 0,
    loadComplete: nav ? Math.round(nav.loadEventEnd - nav.loadEventStart) : 0,
    pageLoad: nav ? Math.round(nav.loadEventEnd - nav.startTime) : 0,
    firstContentfulPaint: paint ? Math.round(paint.startTime) : null,
    transferSize: nav ? nav.transferSize : 0,
    resourceCount: performance.getEntriesByType('resource').length,
    memoryUsage: mem ? {
      used: Math.round(mem.usedJSHeapSize / 1024 / 1024),
      total: Math.round(mem.totalJSHeapSize / 1024 / 1024),
      limit: Math.round(mem.jsHeapSizeLimit / 1024 / 1024)
    } : 'Not available'
  };
})()`

const seoScript = `(() => {
  const results = [];
  const title = document.querySelector('title');
  if (!title || title.textContent.trim().length === 0) {
    results.push('Missing or empty title tag');
  } else if (title.textContent.length > 60) {
    results.push('Title tag is too long (>60 characters)');
  }

  const desc = document.querySelector('meta[name="description"]');
  if (!desc || (desc.getAttribute('content') || '').trim().length === 0) {
    results.push('Missing or empty meta description');
  }

  const h1 = document.querySelectorAll('h1').length;
  if (h1 === 0) results.push('No H1 tag found');
  else if (h1 > 1) results.push('Multiple H1 tags found');

  if (!document.querySelector('link[rel="canonical"]')) results.push('Missing canonical link');
  if (!document.querySelector('meta[name="robots"]')) results.push('Missing robots meta tag');
  return results;
})()`

const bestPracticesScript = `(() => {
  const results = [];
  const https = location.protocol === 'https:';
  if (!https) results.push('Page is not served over HTTPS');

  if (https) {
    const insecure = Array.from(document.querySelectorAll('[src], [href]'))
      .filter((el) => (el.getAttribute('src') || el.getAttribute('href') || '').startsWith('http:')).length;
    if (insecure > 0) results.push('Found ' + insecure + ' HTTP resources on HTTPS page');
  }

  const deprecated = document.querySelectorAll('font, center, big, tt, marquee, blink').length;
  if (deprecated > 0) results.push('Found ' + deprecated + ' deprecated HTML tags');

  if (!document.querySelector('meta[name="viewport"]')) {
    results.push('Missing viewport meta tag for mobile optimization');
  }
  if (!document.doctype) results.push('Missing <!DOCTYPE html> declaration');
  return results;
})()`

const nextjsScript = `(() => {
  const results = [];
  if (!document.querySelector('#__NEXT_DATA__') && !window.next) {
    results.push('This does not appear to be a Next.js application');
    return results;
  }
  const nextImages = document.querySelectorAll('img[data-nimg]').length;
  const plainImages = document.querySelectorAll('img:not([data-nimg])').length;
  if (plainImages > 0 && nextImages === 0) {
    results.push('Consider using Next.js Image component for ' + plainImages + ' images');
  }
  const internalLinks = document.querySelectorAll('a[href^="/"]').length;
  if (internalLinks > 0) {
    results.push('Found ' + internalLinks + ' internal links - ensure Next.js Link component is used');
  }
  if (document.querySelectorAll('meta, title, link[rel="stylesheet"]').length < 3) {
    results.push('Consider using Next.js Head component for better SEO');
  }
  return results;
})()`

const debugInitScript = `window.debugMode = true; console.log('Debug mode enabled');`

const debuggerScript = `(() => {
  const mem = performance.memory;
  const nav = performance.getEntriesByType('navigation')[0];
  return {
    url: window.location.href,
    userAgent: navigator.userAgent,
    screenSize: screen.width + 'x' + screen.height,
    viewportSize: window.innerWidth + 'x' + window.innerHeight,
    debugMode: window.debugMode === true,
    performance: {
      memory: mem ? {
        used: Math.round(mem.usedJSHeapSize / 1024 / 1024) + 'MB',
        total: Math.round(mem.totalJSHeapSize / 1024 / 1024) + 'MB'
      } : 'Not available',
      timing: nav ? {
        pageLoad: Math.round(nav.loadEventEnd - nav.startTime) + 'ms',
        domReady: Math.round(nav.domContentLoadedEventEnd - nav.startTime) + 'ms'
      } : 'Not available'
    }
  };
})()`

const selectedElementScript = `(() => {
  const el = document.activeElement;
  if (!el || el === document.body || el === document.documentElement) return null;
  const cls = typeof el.className === 'string' ? el.className : '';
  return {
    tagName: el.tagName,
    id: el.id,
    className: cls,
    textContent: (el.textContent || '').substring(0, 100),
    value: el.value || null,
    selector: el.id ? '#' + el.id : cls ? '.' + cls.trim().split(/\s+/)[0] : el.tagName.toLowerCase()
  };
})()`
